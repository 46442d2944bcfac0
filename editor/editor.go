// Package editor implements the editor façade RPC surface (spec §6):
// Register, Insert, Delete, GetString, End. It owns one replica.Replica
// per registered client, grounded on wasm_server.rs's WasmRpcServer.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Polqt/yatadoc/metrics"
	"github.com/Polqt/yatadoc/replica"
	"github.com/Polqt/yatadoc/rpcapi"
	"github.com/Polqt/yatadoc/synctxn"
	"github.com/Polqt/yatadoc/wsconn"
)

// Server is the process-wide editor façade: a registry of live
// replicas keyed by client id, satisfying rpcapi.EditorServer.
type Server struct {
	mu       sync.RWMutex
	replicas map[uint32]*replica.Replica

	dial    synctxn.Dialer
	zkAddrs []string
	log     *slog.Logger
	push    *wsconn.Broadcaster
	metrics *metrics.Collector
}

// New constructs an empty Server. dial is the rpcapi.SyncClient
// constructor used by every replica's SyncTransaction (normally
// transport.Dial). mcol may be nil to disable metrics.
func New(zkAddrs []string, dial synctxn.Dialer, mcol *metrics.Collector, log *slog.Logger) *Server {
	return &Server{
		replicas: make(map[uint32]*replica.Replica),
		dial:     dial,
		zkAddrs:  zkAddrs,
		log:      log,
		push:     wsconn.NewBroadcaster(),
		metrics:  mcol,
	}
}

// Broadcaster exposes the live-push channel so main can mount a
// WebSocket upgrade endpoint backed by the same Server.
func (s *Server) Broadcaster() *wsconn.Broadcaster { return s.push }

func (s *Server) Register(ctx context.Context, docName string, clientID uint32, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replicas[clientID]; exists {
		return fmt.Errorf("editor: client %d already registered", clientID)
	}

	r, err := replica.Start(replica.Config{
		DocName: docName,
		Client:  clientID,
		Addr:    addr,
		ZKAddrs: s.zkAddrs,
		Dial:    s.dial,
		Metrics: s.metrics,
		Log:     s.log,
	})
	if err != nil {
		return err
	}
	s.replicas[clientID] = r
	s.log.Info("editor: client registered", "client", clientID, "doc", docName)
	return nil
}

func (s *Server) Insert(ctx context.Context, clientID uint32, pos int, text string) error {
	r, err := s.get(clientID)
	if err != nil {
		return err
	}
	r.Doc.InsertLocal(text, pos)
	s.pushSnapshot(r)
	return nil
}

func (s *Server) Delete(ctx context.Context, clientID uint32, pos, length int) error {
	r, err := s.get(clientID)
	if err != nil {
		return err
	}
	r.Doc.DeleteLocal(pos, length)
	s.pushSnapshot(r)
	return nil
}

// GetString triggers a sync round before rendering (supplemented
// feature grounded on sync_txn.rs::get_content).
func (s *Server) GetString(ctx context.Context, clientID uint32) (string, error) {
	r, err := s.get(clientID)
	if err != nil {
		return "", err
	}
	return r.Txn.GetContent(ctx)
}

// End removes a client's replica from the registry and stops it. It
// does not wait for operations already in flight on the replica's Doc;
// Stop only signals the background loops and closes the membership
// session.
func (s *Server) End(ctx context.Context, clientID uint32) error {
	s.mu.Lock()
	r, ok := s.replicas[clientID]
	if ok {
		delete(s.replicas, clientID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("editor: client %d not registered", clientID)
	}
	r.Stop()
	return nil
}

// SyncServerFor resolves the rpcapi.SyncServer for a locally-hosted
// client, for use as a transport.Lookup by the peer sync RPC handler.
func (s *Server) SyncServerFor(clientID uint32) (rpcapi.SyncServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replicas[clientID]
	if !ok {
		return nil, false
	}
	return r.Txn, true
}

func (s *Server) get(clientID uint32) (*replica.Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replicas[clientID]
	if !ok {
		return nil, fmt.Errorf("editor: client %d not registered", clientID)
	}
	return r, nil
}

func (s *Server) pushSnapshot(r *replica.Replica) {
	s.push.Broadcast([]byte(r.Doc.Render()))
}

var _ rpcapi.EditorServer = (*Server)(nil)
