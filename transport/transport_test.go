package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Polqt/yatadoc/rpcapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSyncServer struct {
	pullResp rpcapi.PullResponse
	pullErr  error
	peerErr  error
	gotPull  rpcapi.PullRequest
}

func (f *fakeSyncServer) GetRemoteUpdates(ctx context.Context, req rpcapi.PullRequest) (rpcapi.PullResponse, error) {
	f.gotPull = req
	return f.pullResp, f.pullErr
}

func (f *fakeSyncServer) SyncPeerList(ctx context.Context, req rpcapi.RegisterRequest) (rpcapi.Status, error) {
	return rpcapi.Status{Succ: f.peerErr == nil}, f.peerErr
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlePullRoutesByTargetClient(t *testing.T) {
	fake := &fakeSyncServer{pullResp: rpcapi.PullResponse{ClientID: 7}}
	h := &Handler{
		Servers: func(target uint32) (rpcapi.SyncServer, bool) {
			if target != 7 {
				return nil, false
			}
			return fake, true
		},
		Log: testLogger(),
	}
	mux := http.NewServeMux()
	h.Mount(mux)

	rec := postJSON(t, mux, pullPath, rpcapi.PullRequest{ClientID: 1, TargetClient: 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if fake.gotPull.TargetClient != 7 {
		t.Errorf("server did not receive the routed request: %+v", fake.gotPull)
	}

	var resp rpcapi.PullResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ClientID != 7 {
		t.Errorf("ClientID = %d, want 7", resp.ClientID)
	}
}

func TestHandlePullUnknownTargetIs404(t *testing.T) {
	h := &Handler{
		Servers: func(target uint32) (rpcapi.SyncServer, bool) { return nil, false },
		Log:     testLogger(),
	}
	mux := http.NewServeMux()
	h.Mount(mux)

	rec := postJSON(t, mux, pullPath, rpcapi.PullRequest{TargetClient: 99})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePeerListDecodesAndDispatches(t *testing.T) {
	fake := &fakeSyncServer{}
	h := &Handler{
		Servers: func(uint32) (rpcapi.SyncServer, bool) { return fake, true },
		Log:     testLogger(),
	}
	mux := http.NewServeMux()
	h.Mount(mux)

	peers, _ := rpcapi.MarshalPeers([]rpcapi.Peer{{ClientID: 2, Addr: "127.0.0.1:9"}})
	rec := postJSON(t, mux, peerListPath, rpcapi.RegisterRequest{TargetClient: 1, PeerList: peers})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

type fakeEditorServer struct {
	content string
	err     error
}

func (f *fakeEditorServer) Register(ctx context.Context, docName string, clientID uint32, addr string) error {
	return f.err
}
func (f *fakeEditorServer) Insert(ctx context.Context, clientID uint32, pos int, text string) error {
	return f.err
}
func (f *fakeEditorServer) Delete(ctx context.Context, clientID uint32, pos, length int) error {
	return f.err
}
func (f *fakeEditorServer) GetString(ctx context.Context, clientID uint32) (string, error) {
	return f.content, f.err
}
func (f *fakeEditorServer) End(ctx context.Context, clientID uint32) error { return f.err }

func TestEditorHandlerGetString(t *testing.T) {
	fake := &fakeEditorServer{content: "hello"}
	h := &EditorHandler{Server: fake, Log: testLogger()}
	mux := http.NewServeMux()
	h.Mount(mux)

	rec := postJSON(t, mux, editorGetPath, rpcapi.EditorClientRequest{ClientID: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp rpcapi.EditorGetStringResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EntireDoc != "hello" {
		t.Errorf("EntireDoc = %q, want %q", resp.EntireDoc, "hello")
	}
}

func TestEditorHandlerInsertAndDelete(t *testing.T) {
	fake := &fakeEditorServer{}
	h := &EditorHandler{Server: fake, Log: testLogger()}
	mux := http.NewServeMux()
	h.Mount(mux)

	if rec := postJSON(t, mux, editorInsertPath, rpcapi.EditorInsertRequest{ClientID: 1, Pos: 0, Text: "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("insert status = %d, want 200", rec.Code)
	}
	if rec := postJSON(t, mux, editorDeletePath, rpcapi.EditorDeleteRequest{ClientID: 1, Pos: 0, Len: 1}); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
}

func TestClientRoundTripsOverHTTP(t *testing.T) {
	fake := &fakeSyncServer{pullResp: rpcapi.PullResponse{ClientID: 3, Updates: []byte("null")}}
	h := &Handler{
		Servers: func(uint32) (rpcapi.SyncServer, bool) { return fake, true },
		Log:     testLogger(),
	}
	mux := http.NewServeMux()
	h.Mount(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cli, err := Dial(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	resp, err := cli.GetRemoteUpdates(context.Background(), rpcapi.PullRequest{ClientID: 1, TargetClient: 2})
	if err != nil {
		t.Fatalf("GetRemoteUpdates: %v", err)
	}
	if resp.ClientID != 3 {
		t.Errorf("ClientID = %d, want 3", resp.ClientID)
	}
}
