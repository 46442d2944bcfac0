package synctxn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Polqt/yatadoc/block"
	"github.com/Polqt/yatadoc/clock"
	"github.com/Polqt/yatadoc/doc"
	"github.com/Polqt/yatadoc/rpcapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSyncClient is an in-memory rpcapi.SyncClient backed directly by
// another replica's SyncTransaction, avoiding any real transport.
type fakeSyncClient struct {
	target *SyncTransaction
}

func (f *fakeSyncClient) GetRemoteUpdates(ctx context.Context, req rpcapi.PullRequest) (rpcapi.PullResponse, error) {
	return f.target.GetRemoteUpdates(ctx, req)
}

func (f *fakeSyncClient) SyncPeerList(ctx context.Context, req rpcapi.RegisterRequest) (rpcapi.Status, error) {
	return f.target.SyncPeerList(ctx, req)
}

func (f *fakeSyncClient) Close() error { return nil }

func TestGetRemoteUpdatesSendsOnlyWhatRemoteIsMissing(t *testing.T) {
	d := doc.New("doc", 1)
	d.InitOwnClock()
	d.InsertLocal("hello", 0)

	s := New("doc", 1, "", d, nil, nil, nil, testLogger())

	remote := clock.New()
	remote.Set(1, 5) // remote already has all 5 characters
	data, _ := remote.MarshalJSON()

	resp, err := s.GetRemoteUpdates(context.Background(), rpcapi.PullRequest{ClientID: 2, TargetClient: 1, VectorClock: data})
	if err != nil {
		t.Fatalf("GetRemoteUpdates: %v", err)
	}
	updates, err := rpcapi.UnmarshalUpdateMap(resp.Updates)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(updates[1]) != 0 {
		t.Errorf("remote already has client 1's content, expected no updates, got %v", updates[1])
	}
}

func TestGetRemoteUpdatesSendsMissingSuffix(t *testing.T) {
	d := doc.New("doc", 1)
	d.InitOwnClock()
	d.InsertLocal("hello", 0)

	s := New("doc", 1, "", d, nil, nil, nil, testLogger())

	remote := clock.New() // remote knows nothing about client 1
	data, _ := remote.MarshalJSON()

	resp, err := s.GetRemoteUpdates(context.Background(), rpcapi.PullRequest{ClientID: 2, TargetClient: 1, VectorClock: data})
	if err != nil {
		t.Fatalf("GetRemoteUpdates: %v", err)
	}
	updates, err := rpcapi.UnmarshalUpdateMap(resp.Updates)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(updates[1]) != 1 || updates[1][0].Content != "hello" {
		t.Errorf("expected the full block back, got %v", updates[1])
	}
}

func TestSyncPullsFromPeerAndIntegrates(t *testing.T) {
	peerDoc := doc.New("doc", 2)
	peerDoc.InitOwnClock()
	peerDoc.InsertLocal("world", 0)
	peer := New("doc", 2, "", peerDoc, nil, nil, nil, testLogger())

	local := doc.New("doc", 1)
	local.InitOwnClock()
	local.AddPeer(2, "peer:addr")

	s := New("doc", 1, "", local, nil, func(addr string) (rpcapi.SyncClient, error) {
		return &fakeSyncClient{target: peer}, nil
	}, nil, testLogger())

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := local.Render(); got != "world" {
		t.Errorf("Render() after sync = %q, want %q", got, "world")
	}
}

func TestSyncSkipsSelf(t *testing.T) {
	local := doc.New("doc", 1)
	local.InitOwnClock()
	local.AddPeer(1, "self:addr") // degenerate, but must never be dialed
	local.AddPeer(2, "peer:addr")

	dialed := map[string]bool{}
	s := New("doc", 1, "", local, nil, func(addr string) (rpcapi.SyncClient, error) {
		dialed[addr] = true
		return nil, errors.New("dial should still be attempted only for peer 2")
	}, nil, testLogger())

	_ = s.Sync(context.Background())
	if dialed["self:addr"] {
		t.Error("Sync dialed its own address")
	}
}

func TestUpdateRemoteAppliesInsertsBeforeDeletes(t *testing.T) {
	local := doc.New("doc", 1)
	local.InitOwnClock()
	local.InsertLocal("1234567", 0)

	s := New("doc", 1, "", local, nil, nil, nil, testLogger())

	id := block.ID{Client: 2, Clock: 100}
	insert := block.Block{ID: id, Content: "NEW2"}
	del := block.Block{ID: id, Deleted: true}

	// Feeding delete before insert in the slice must still converge,
	// since updateRemote partitions and orders inserts first.
	s.updateRemote(2, []block.Block{del, insert})

	if got := local.Render(); got != "1234567" {
		t.Errorf("Render() = %q, want %q", got, "1234567")
	}
}
