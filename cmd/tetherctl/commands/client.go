package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ifaceStatus mirrors internal/server/api.go's wire representation of a
// single tracked interface.
type ifaceStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// statusResponse mirrors internal/server/api.go's /v1/status body.
type statusResponse struct {
	Tethered   []string      `json:"tethered"`
	Tetherable []string      `json:"tetherable"`
	Errored    []string      `json:"errored"`
	Interfaces []ifaceStatus `json:"interfaces"`
}

// tetherResponse mirrors internal/server/api.go's /v1/tether and
// /v1/untether response body.
type tetherResponse struct {
	Error   string `json:"error"`
	Pending bool   `json:"pending,omitempty"`
}

func getStatus(ctx context.Context) (*statusResponse, error) {
	var resp statusResponse
	if err := doJSON(ctx, http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func getIfaces(ctx context.Context) ([]ifaceStatus, error) {
	var resp []ifaceStatus
	if err := doJSON(ctx, http.MethodGet, "/v1/ifaces", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func postTether(ctx context.Context, ifType string, showUI bool) (*tetherResponse, error) {
	body := struct {
		ShowProvisioningUI bool `json:"show_provisioning_ui"`
	}{ShowProvisioningUI: showUI}

	var resp tetherResponse
	if err := doJSON(ctx, http.MethodPost, "/v1/tether/"+ifType, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func postUntether(ctx context.Context, ifType string) (*tetherResponse, error) {
	var resp tetherResponse
	if err := doJSON(ctx, http.MethodPost, "/v1/untether/"+ifType, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON issues an HTTP request against the daemon and decodes a JSON
// response. body, if non-nil, is marshaled as the request's JSON payload.
func doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	hasBody := body != nil
	if hasBody {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
