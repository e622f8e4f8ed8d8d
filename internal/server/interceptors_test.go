package server_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"connectrpc.com/connect"

	"github.com/dantte-lp/tetherd/internal/server"
)

// fakeRequest satisfies connect.AnyRequest with just enough surface for the
// interceptors under test: they only read Spec().Procedure.
type fakeRequest struct {
	connect.AnyRequest
	procedure string
}

func (r fakeRequest) Spec() connect.Spec {
	return connect.Spec{Procedure: r.procedure}
}

// -------------------------------------------------------------------------
// LoggingInterceptor
// -------------------------------------------------------------------------

func TestLoggingInterceptorPassesThroughSuccess(t *testing.T) {
	t.Parallel()

	var called bool
	next := func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		called = true
		return nil, nil
	}

	wrapped := server.LoggingInterceptor(discardLogger())(next)
	_, err := wrapped(context.Background(), fakeRequest{procedure: "/tetherd.v1.TetherService/Status"})
	if err != nil {
		t.Fatalf("wrapped() error = %v, want nil", err)
	}
	if !called {
		t.Error("next was not called")
	}
}

func TestLoggingInterceptorPassesThroughError(t *testing.T) {
	t.Parallel()

	wantErr := connect.NewError(connect.CodeNotFound, errors.New("not found"))
	next := func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, wantErr
	}

	wrapped := server.LoggingInterceptor(discardLogger())(next)
	_, err := wrapped(context.Background(), fakeRequest{procedure: "/tetherd.v1.TetherService/Status"})
	if !errors.Is(err, wantErr) {
		t.Errorf("wrapped() error = %v, want %v", err, wantErr)
	}
}

// -------------------------------------------------------------------------
// RecoveryInterceptor
// -------------------------------------------------------------------------

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	next := func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, nil
	}

	wrapped := server.RecoveryInterceptor(discardLogger())(next)
	_, err := wrapped(context.Background(), fakeRequest{procedure: "/tetherd.v1.TetherService/Status"})
	if err != nil {
		t.Fatalf("wrapped() error = %v, want nil", err)
	}
}

func TestRecoveryInterceptorRecoversPanic(t *testing.T) {
	t.Parallel()

	next := func(_ context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		panic("intentional test panic")
	}

	wrapped := server.RecoveryInterceptor(discardLogger())(next)
	_, err := wrapped(context.Background(), fakeRequest{procedure: "/tetherd.v1.TetherService/Status"})
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
	if !errors.Is(err, server.ErrPanicRecovered) {
		t.Errorf("error does not wrap ErrPanicRecovered: %v", err)
	}
}

// -------------------------------------------------------------------------
// Health endpoint exercises both interceptors end-to-end
// -------------------------------------------------------------------------

func TestHealthEndpointServedThroughInterceptors(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/grpc.health.v1.Health/Check")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound &&
		resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 200, or 404/405 (unary POST-only endpoints reject bare GET with 404/405, not a panic)", resp.StatusCode)
	}
}

// -------------------------------------------------------------------------
// Plain net/http middleware, exercised via the full JSON API mux
// -------------------------------------------------------------------------

func TestJSONAPIRoutesSurviveMiddleware(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnknownRouteReturns404ThroughMiddleware(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/nonexistent")
	if err != nil {
		t.Fatalf("GET /v1/nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
