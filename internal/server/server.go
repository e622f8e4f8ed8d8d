// Package server exposes the tethering daemon over HTTP: a hand-written
// JSON facade over the orchestrator plus a grpc.health.v1 checker for
// liveness probes.
package server

import (
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// HealthServiceName is reported SERVING by a static checker from the moment
// New builds the handler, whether or not the orchestrator has started.
const HealthServiceName = "tetherd.v1.TetherService"

// New builds the daemon's HTTP mux: the JSON tethering API under /v1 and a
// grpc.health.v1 checker reporting on the orchestrator's liveness.
//
// New itself never fails; it always returns a usable handler even before
// orch.Start has been called; the API simply lists no interfaces until the
// orchestrator observes one.
func New(orch *tether.Orchestrator, logger *slog.Logger) http.Handler {
	api := &TetherAPI{orch: orch, logger: logger}

	mux := http.NewServeMux()
	api.Register(mux)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		HealthServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker,
		connect.WithInterceptors(LoggingInterceptor(logger), RecoveryInterceptor(logger)),
	))

	return recoveryMiddleware(logger, loggingMiddleware(logger, mux))
}
