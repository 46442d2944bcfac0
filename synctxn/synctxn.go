// Package synctxn implements SyncTransaction: the pull-based
// reconciliation round that reconciles one replica's Doc against its
// peers (spec §4.5). It is the server side of the CRDT sync RPC
// (answering GetRemoteUpdates/SyncPeerList) and the initiator of
// outbound sync rounds against every other known peer.
package synctxn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Polqt/yatadoc/block"
	"github.com/Polqt/yatadoc/clock"
	"github.com/Polqt/yatadoc/doc"
	"github.com/Polqt/yatadoc/membership"
	"github.com/Polqt/yatadoc/metrics"
	"github.com/Polqt/yatadoc/rpcapi"
)

// Dialer opens an rpcapi.SyncClient to a peer's network address. A
// transport-specific implementation (e.g. HTTP+JSON) is injected at
// construction so this package stays transport-agnostic.
type Dialer func(addr string) (rpcapi.SyncClient, error)

// SyncTransaction owns one replica's Doc and coordinates syncing it
// against every peer named in doc.Peers.
type SyncTransaction struct {
	DocName  string
	Client   uint32
	ClientIP string

	Doc     *doc.Doc
	Member  *membership.Client
	dial    Dialer
	log     *slog.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	channels map[uint32]rpcapi.SyncClient
}

// New constructs a SyncTransaction for an already-created Doc. member
// may be nil if membership has not been wired up yet (e.g. in tests);
// Register will fail in that case. mcol may be nil to disable metrics.
func New(docName string, client uint32, clientIP string, d *doc.Doc, member *membership.Client, dial Dialer, mcol *metrics.Collector, log *slog.Logger) *SyncTransaction {
	return &SyncTransaction{
		DocName:  docName,
		Client:   client,
		ClientIP: clientIP,
		Doc:      d,
		Member:   member,
		dial:     dial,
		metrics:  mcol,
		log:      log,
		channels: make(map[uint32]rpcapi.SyncClient),
	}
}

// Register consults membership and initializes this replica's own
// vector-clock entry to 0 (spec §4.5 "register"). On success Doc's
// peer table reflects the full up-to-date roster.
func (s *SyncTransaction) Register() error {
	if s.Member == nil {
		return errors.New("synctxn: register: no membership client")
	}
	peers, err := s.Member.Register(s.Client, s.ClientIP)
	if err != nil {
		s.log.Error("synctxn: register failed", "client", s.Client, "err", err)
		return err
	}

	s.Doc.InitOwnClock()
	for _, p := range peers {
		s.Doc.AddPeer(p.ClientID, p.Addr)
	}
	s.log.Info("synctxn: registered", "client", s.Client, "peers", len(peers))
	return nil
}

// OnPeerListChanged merges a freshly observed peer list into Doc's
// table additively — peers are never removed by a membership
// notification, only added (spec §4.5, §7).
func (s *SyncTransaction) OnPeerListChanged(peers []rpcapi.Peer) {
	for _, p := range peers {
		if p.ClientID == s.Client {
			continue
		}
		if !s.Doc.HasPeer(p.ClientID) {
			s.Doc.AddPeer(p.ClientID, p.Addr)
			s.log.Info("synctxn: discovered new peer", "peer", p.ClientID, "addr", p.Addr)
		}
	}
}

// GetContent triggers a sync round and then returns the freshly
// rendered document text (spec "supplemented features": GetString
// syncs first, grounded on sync_txn.rs::get_content).
func (s *SyncTransaction) GetContent(ctx context.Context) (string, error) {
	if err := s.Sync(ctx); err != nil {
		return "", err
	}
	return s.Doc.Render(), nil
}

// Sync fans out to every known peer concurrently, pulling their
// updates and integrating them locally. Individual peer failures are
// logged and do not abort the round.
func (s *SyncTransaction) Sync(ctx context.Context) error {
	s.log.Debug("synctxn: sync starting", "client", s.Client)

	peers := s.Doc.PeersSnapshot()
	delete(peers, s.Client)

	g, gctx := errgroup.WithContext(ctx)
	for peerID, addr := range peers {
		peerID, addr := peerID, addr
		g.Go(func() error {
			return s.syncWithPeer(gctx, peerID, addr)
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("synctxn: sync round had errors", "err", err)
	}
	s.log.Debug("synctxn: sync finished", "client", s.Client)
	return nil
}

func (s *SyncTransaction) syncWithPeer(ctx context.Context, peerID uint32, addr string) error {
	cli, err := s.channelFor(peerID, addr)
	if err != nil {
		s.log.Warn("synctxn: dial peer failed", "peer", peerID, "err", err)
		return nil
	}

	vc := s.Doc.VectorClockSnapshot()
	vcBytes, err := vc.MarshalJSON()
	if err != nil {
		return err
	}

	resp, err := cli.GetRemoteUpdates(ctx, rpcapi.PullRequest{ClientID: s.Client, TargetClient: peerID, VectorClock: vcBytes})
	if err != nil {
		s.log.Warn("synctxn: pull rpc failed", "peer", peerID, "err", err)
		return nil
	}

	updates, err := rpcapi.UnmarshalUpdateMap(resp.Updates)
	if err != nil {
		s.log.Warn("synctxn: bad update map from peer", "peer", peerID, "err", err)
		return nil
	}
	for originClient, blocks := range updates {
		s.updateRemote(originClient, blocks)
	}
	return nil
}

func (s *SyncTransaction) channelFor(peerID uint32, addr string) (rpcapi.SyncClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[peerID]; ok {
		return c, nil
	}
	c, err := s.dial(addr)
	if err != nil {
		return nil, err
	}
	s.channels[peerID] = c
	return c, nil
}

// updateRemote applies one peer's batch of updates to the local Doc,
// inserts first so that deletes targeting those same blocks always
// have something to find (mirrors sync_txn.rs::update_remote).
func (s *SyncTransaction) updateRemote(peerID uint32, updates []block.Block) {
	var inserts, deletes []block.Block
	for _, u := range updates {
		if u.Deleted {
			deletes = append(deletes, u)
		} else {
			inserts = append(inserts, u)
		}
	}
	for _, b := range inserts {
		s.recordOutcome(s.Doc.IntegrateRemote(b))
	}
	for _, b := range deletes {
		s.recordOutcome(s.Doc.DeleteRemote(b))
	}
	_ = peerID
}

func (s *SyncTransaction) recordOutcome(o doc.Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.IntegrationsTotal.WithLabelValues(s.DocName, o.String()).Inc()
}

// ─────────────────────────────────────────────────────────────
// rpcapi.SyncServer implementation (inbound RPC handlers)
// ─────────────────────────────────────────────────────────────

// GetRemoteUpdates answers a peer's pull request with the diff of
// everything they're missing (spec §4.2 "compute_diff").
func (s *SyncTransaction) GetRemoteUpdates(ctx context.Context, req rpcapi.PullRequest) (rpcapi.PullResponse, error) {
	var remote clock.VectorClock
	if err := remote.UnmarshalJSON(req.VectorClock); err != nil {
		return rpcapi.PullResponse{}, err
	}

	diff := s.computeDiff(&remote)
	updatesBytes, err := rpcapi.MarshalUpdateMap(diff)
	if err != nil {
		return rpcapi.PullResponse{}, err
	}
	return rpcapi.PullResponse{ClientID: s.Client, Updates: updatesBytes}, nil
}

// SyncPeerList merges a membership-notified peer list into Doc (spec
// §7 "SyncPeerList").
func (s *SyncTransaction) SyncPeerList(ctx context.Context, req rpcapi.RegisterRequest) (rpcapi.Status, error) {
	peers, err := rpcapi.UnmarshalPeers(req.PeerList)
	if err != nil {
		return rpcapi.Status{Succ: false}, err
	}
	s.OnPeerListChanged(peers)
	return rpcapi.Status{Succ: true}, nil
}

// computeDiff compares the local vector clock against remote and
// returns, per client, the blocks remote is missing (spec §4.2).
func (s *SyncTransaction) computeDiff(remote *clock.VectorClock) map[uint32]rpcapi.Updates {
	local := s.Doc.VectorClockSnapshot()
	out := make(map[uint32]rpcapi.Updates, len(local.Clients()))

	for _, c := range local.Clients() {
		localClock := local.Get(c)
		remoteClock := remote.Get(c)
		if remoteClock >= localClock {
			out[c] = nil
			continue
		}
		out[c] = s.Doc.UpdatesSince(c, remoteClock)
	}
	return out
}
