// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package provisioner implements folonet's RPC to the external "server
// manager" (spec.md §6): only two verbs matter, StartServer and
// StopServer. The wire shape is JSON-over-HTTP via gorilla/mux, grounded
// on the teacher's internal/api handler pattern (a Handlers struct
// registering routes on a *mux.Router, JSON request/response bodies).
package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	folerrors "github.com/loheagn/folonet/internal/errors"
)

// StartResult is the decoded response of StartServer.
type StartResult struct {
	Active         bool   `json:"active"`
	Name           string `json:"name"`
	ServerEndpoint string `json:"server_endpoint"`
}

// Client calls out to the external server manager over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client targeting baseURL (e.g. "http://127.0.0.1:9100").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// StartServer asks the server manager to provision a backend for
// localEndpoint, per spec.md §4.3 step 1.
func (c *Client) StartServer(ctx context.Context, localEndpoint string) (StartResult, error) {
	body, err := json.Marshal(map[string]string{"local_endpoint": localEndpoint})
	if err != nil {
		return StartResult{}, folerrors.Wrap(err, folerrors.KindInternal, "provisioner: marshal StartServer request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/servers", bytes.NewReader(body))
	if err != nil {
		return StartResult{}, folerrors.Wrap(err, folerrors.KindInternal, "provisioner: build StartServer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return StartResult{}, folerrors.Wrap(err, folerrors.KindUnavailable, "provisioner: StartServer request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StartResult{}, folerrors.Errorf(folerrors.KindUnavailable, "provisioner: StartServer returned status %d", resp.StatusCode)
	}

	var result StartResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StartResult{}, folerrors.Wrap(err, folerrors.KindInternal, "provisioner: decode StartServer response")
	}
	return result, nil
}

// StopServer asks the server manager to tear down the backend bound to
// localEndpoint, per spec.md §4.3's idle-monitor teardown path.
func (c *Client) StopServer(ctx context.Context, localEndpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/servers/"+localEndpoint, nil)
	if err != nil {
		return folerrors.Wrap(err, folerrors.KindInternal, "provisioner: build StopServer request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return folerrors.Wrap(err, folerrors.KindUnavailable, "provisioner: StopServer request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return folerrors.Errorf(folerrors.KindUnavailable, "provisioner: StopServer returned status %d", resp.StatusCode)
	}
	return nil
}

// Backend describes a backend provisioner's own bookkeeping of what it has
// started, used by Handlers (a reference implementation of the server
// manager's HTTP surface for local testing).
type Backend interface {
	StartServer(localEndpoint string) (StartResult, error)
	StopServer(localEndpoint string) error
}

// Handlers exposes a Backend over HTTP, the shape a real server manager
// would implement, grounded on the teacher's *Handlers{manager}* +
// RegisterRoutes(router *mux.Router) pattern.
type Handlers struct {
	backend Backend
}

// NewHandlers builds Handlers around backend.
func NewHandlers(backend Backend) *Handlers {
	return &Handlers{backend: backend}
}

// RegisterRoutes installs the two verbs on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/servers", h.handleStartServer).Methods(http.MethodPost)
	router.HandleFunc("/servers/{endpoint}", h.handleStopServer).Methods(http.MethodDelete)
}

func (h *Handlers) handleStartServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalEndpoint string `json:"local_endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.backend.StartServer(req.LocalEndpoint)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handlers) handleStopServer(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	if err := h.backend.StopServer(endpoint); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
