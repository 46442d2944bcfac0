// Package transport implements the CRDT sync RPC surface (spec §6)
// over HTTP+JSON. The transport technology itself is an external
// collaborator boundary the specification deliberately leaves open;
// this package picks plain net/http in the same hand-rolled-wire-
// protocol spirit as the teacher's from-scratch WebSocket framer.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Polqt/yatadoc/rpcapi"
)

const (
	pullPath         = "/rpc/pull"
	peerListPath     = "/rpc/peerlist"
	editorRegPath    = "/rpc/editor/register"
	editorInsertPath = "/rpc/editor/insert"
	editorDeletePath = "/rpc/editor/delete"
	editorGetPath    = "/rpc/editor/getstring"
	editorEndPath    = "/rpc/editor/end"
	requestIDHdr     = "X-Request-Id"
	defaultTimeout   = 10 * time.Second
)

// Lookup resolves which locally-hosted replica should answer an
// inbound sync RPC, keyed by the target client id carried on the wire.
type Lookup func(targetClient uint32) (rpcapi.SyncServer, bool)

// Handler adapts a Lookup of rpcapi.SyncServer to net/http, to be
// mounted on a *http.ServeMux.
type Handler struct {
	Servers Lookup
	Log     *slog.Logger
}

func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc(pullPath, h.handlePull)
	mux.HandleFunc(peerListPath, h.handlePeerList)
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	log := h.Log.With("request_id", reqID, "rpc", "GetRemoteUpdates")

	var req rpcapi.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("transport: decode pull request failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	server, ok := h.Servers(req.TargetClient)
	if !ok {
		http.Error(w, "unknown target client", http.StatusNotFound)
		return
	}

	resp, err := server.GetRemoteUpdates(r.Context(), req)
	if err != nil {
		log.Warn("transport: GetRemoteUpdates failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) handlePeerList(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	log := h.Log.With("request_id", reqID, "rpc", "SyncPeerList")

	var req rpcapi.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("transport: decode peer list request failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	server, ok := h.Servers(req.TargetClient)
	if !ok {
		http.Error(w, "unknown target client", http.StatusNotFound)
		return
	}

	resp, err := server.SyncPeerList(r.Context(), req)
	if err != nil {
		log.Warn("transport: SyncPeerList failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

// EditorHandler adapts an rpcapi.EditorServer to net/http.
type EditorHandler struct {
	Server rpcapi.EditorServer
	Log    *slog.Logger
}

func (h *EditorHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc(editorRegPath, h.handleRegister)
	mux.HandleFunc(editorInsertPath, h.handleInsert)
	mux.HandleFunc(editorDeletePath, h.handleDelete)
	mux.HandleFunc(editorGetPath, h.handleGetString)
	mux.HandleFunc(editorEndPath, h.handleEnd)
}

func (h *EditorHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req rpcapi.EditorRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Server.Register(r.Context(), req.DocName, req.ClientID, req.Addr); err != nil {
		h.Log.Warn("transport: editor register failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.Status{Succ: true})
}

func (h *EditorHandler) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req rpcapi.EditorInsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Server.Insert(r.Context(), req.ClientID, req.Pos, req.Text); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.Status{Succ: true})
}

func (h *EditorHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req rpcapi.EditorDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Server.Delete(r.Context(), req.ClientID, req.Pos, req.Len); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.Status{Succ: true})
}

func (h *EditorHandler) handleGetString(w http.ResponseWriter, r *http.Request) {
	var req rpcapi.EditorClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content, err := h.Server.GetString(r.Context(), req.ClientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.EditorGetStringResponse{EntireDoc: content})
}

func (h *EditorHandler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req rpcapi.EditorClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Server.End(r.Context(), req.ClientID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rpcapi.Status{Succ: true})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHdr); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Client is an rpcapi.SyncClient implementation dialing one peer over
// HTTP+JSON.
type Client struct {
	baseURL string
	hc      *http.Client
}

// Dial is a synctxn.Dialer for the HTTP+JSON transport: it returns an
// rpcapi.SyncClient for the peer at addr.
func Dial(addr string) (rpcapi.SyncClient, error) {
	return &Client{
		baseURL: "http://" + addr,
		hc:      &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *Client) GetRemoteUpdates(ctx context.Context, req rpcapi.PullRequest) (rpcapi.PullResponse, error) {
	var resp rpcapi.PullResponse
	if err := c.post(ctx, pullPath, req, &resp); err != nil {
		return rpcapi.PullResponse{}, err
	}
	return resp, nil
}

func (c *Client) SyncPeerList(ctx context.Context, req rpcapi.RegisterRequest) (rpcapi.Status, error) {
	var resp rpcapi.Status
	if err := c.post(ctx, peerListPath, req, &resp); err != nil {
		return rpcapi.Status{}, err
	}
	return resp, nil
}

func (c *Client) Close() error { return nil }

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHdr, uuid.NewString())

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}
