package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// startTetheringWait bounds how long a /v1/tether/{type} request blocks for
// a synchronous ErrorCode. A request that hits the entitlement-check path
// won't resolve within this window, so the handler reports it as pending
// rather than hanging until ResolveProvisioning is called out-of-band.
const startTetheringWait = 5 * time.Second

// TetherAPI is a thin JSON adapter over an *tether.Orchestrator: each
// handler logs, delegates to the orchestrator, and serializes the result.
// It carries no tethering logic of its own.
type TetherAPI struct {
	orch   *tether.Orchestrator
	logger *slog.Logger
}

// Register installs the API's routes on mux.
func (a *TetherAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", a.handleStatus)
	mux.HandleFunc("GET /v1/ifaces", a.handleIfaces)
	mux.HandleFunc("POST /v1/tether/{type}", a.handleTether)
	mux.HandleFunc("POST /v1/untether/{type}", a.handleUntether)
}

// ifaceStatus is the wire representation of a single tracked interface.
type ifaceStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// statusResponse is the wire representation of the daemon's overall state.
type statusResponse struct {
	Tethered   []string      `json:"tethered"`
	Tetherable []string      `json:"tetherable"`
	Errored    []string      `json:"errored"`
	Interfaces []ifaceStatus `json:"interfaces"`
}

func (a *TetherAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Tethered:   orEmpty(a.orch.GetTetheredIfaces()),
		Tetherable: orEmpty(a.orch.GetTetherableIfaces()),
		Errored:    orEmpty(a.orch.GetErroredIfaces()),
		Interfaces: snapshotToIfaces(a.orch.Snapshot()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *TetherAPI) handleIfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotToIfaces(a.orch.Snapshot()))
}

func snapshotToIfaces(snap map[string]tether.TetherEntry) []ifaceStatus {
	out := make([]ifaceStatus, 0, len(snap))
	for name, e := range snap {
		s := ifaceStatus{Name: name, Type: e.Type.String(), State: e.LastState.String()}
		if e.LastError != tether.ErrNone {
			s.Error = e.LastError.String()
		}
		out = append(out, s)
	}
	return out
}

// tetherRequest is the optional JSON body accepted by /v1/tether/{type}.
type tetherRequest struct {
	ShowProvisioningUI bool `json:"show_provisioning_ui"`
}

// tetherResponse reports the outcome of a /v1/tether or /v1/untether call.
type tetherResponse struct {
	Error   string `json:"error"`
	Pending bool   `json:"pending,omitempty"`
}

func (a *TetherAPI) handleTether(w http.ResponseWriter, r *http.Request) {
	ifType, ok := parseIfaceType(r.PathValue("type"))
	if !ok {
		http.Error(w, "unknown interface type", http.StatusNotFound)
		return
	}

	var req tetherRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	sink := newResultSink()
	code := a.orch.StartTethering(ifType, sink, req.ShowProvisioningUI)

	a.logger.InfoContext(r.Context(), "tether requested",
		slog.String("type", ifType.String()),
		slog.String("result", code.String()),
	)

	if code != tether.ErrNone {
		writeJSON(w, http.StatusOK, tetherResponse{Error: code.String()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), startTetheringWait)
	defer cancel()

	final, ok := sink.wait(ctx)
	if !ok {
		writeJSON(w, http.StatusAccepted, tetherResponse{Error: tether.ErrNone.String(), Pending: true})
		return
	}
	writeJSON(w, http.StatusOK, tetherResponse{Error: final.String()})
}

func (a *TetherAPI) handleUntether(w http.ResponseWriter, r *http.Request) {
	ifType, ok := parseIfaceType(r.PathValue("type"))
	if !ok {
		http.Error(w, "unknown interface type", http.StatusNotFound)
		return
	}

	code := a.orch.StopTethering(ifType)

	a.logger.InfoContext(r.Context(), "untether requested",
		slog.String("type", ifType.String()),
		slog.String("result", code.String()),
	)

	writeJSON(w, http.StatusOK, tetherResponse{Error: code.String()})
}

func parseIfaceType(s string) (tether.InterfaceType, bool) {
	switch strings.ToLower(s) {
	case "usb":
		return tether.InterfaceUSB, true
	case "wifi":
		return tether.InterfaceWifi, true
	case "bluetooth":
		return tether.InterfaceBluetooth, true
	default:
		return tether.InterfaceInvalid, false
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resultSink is a one-shot tether.ResultSink backed by a buffered channel,
// letting an HTTP handler wait for StartTethering's asynchronous outcome
// without the orchestrator knowing anything about HTTP.
type resultSink struct {
	ch chan tether.ErrorCode
}

func newResultSink() *resultSink {
	return &resultSink{ch: make(chan tether.ErrorCode, 1)}
}

func (s *resultSink) Send(code tether.ErrorCode) {
	select {
	case s.ch <- code:
	default:
	}
}

func (s *resultSink) wait(ctx context.Context) (tether.ErrorCode, bool) {
	select {
	case code := <-s.ch:
		return code, true
	case <-ctx.Done():
		return tether.ErrNone, false
	}
}
