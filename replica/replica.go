// Package replica wires together one running node: a Doc, its
// SyncTransaction, a membership client, and metrics instrumentation.
// It owns the lifecycle (Start/Stop) that the editor façade drives per
// registered client, grounded on wasm_server.rs's per-client
// SyncTransaction bookkeeping (§"RPC surface (editor façade)").
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Polqt/yatadoc/doc"
	"github.com/Polqt/yatadoc/membership"
	"github.com/Polqt/yatadoc/metrics"
	"github.com/Polqt/yatadoc/rpcapi"
	"github.com/Polqt/yatadoc/synctxn"
)

// SyncInterval is how often a running replica pulls from its peers in
// the background, independent of explicit GetString-triggered syncs.
const SyncInterval = 2 * time.Second

// Replica is one client's live editing session against one document.
type Replica struct {
	Doc  *doc.Doc
	Txn  *synctxn.SyncTransaction
	Addr string

	log     *slog.Logger
	metrics *metrics.Collector
	member  *membership.Client

	stop chan struct{}
}

// Config bundles what's needed to stand up a Replica.
type Config struct {
	DocName    string
	Client     uint32
	Addr       string
	ZKAddrs    []string
	Dial       synctxn.Dialer
	Metrics    *metrics.Collector
	Log        *slog.Logger
}

// Start creates the Doc and SyncTransaction, registers with
// membership, and launches the background watch/sync loops.
func Start(cfg Config) (*Replica, error) {
	d := doc.New(cfg.DocName, cfg.Client)

	member, err := membership.Dial(cfg.ZKAddrs, cfg.DocName, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("replica: membership dial: %w", err)
	}

	txn := synctxn.New(cfg.DocName, cfg.Client, cfg.Addr, d, member, cfg.Dial, cfg.Metrics, cfg.Log)
	if err := txn.Register(); err != nil {
		member.Close()
		return nil, fmt.Errorf("replica: register: %w", err)
	}

	r := &Replica{
		Doc:     d,
		Txn:     txn,
		Addr:    cfg.Addr,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		member:  member,
		stop:    make(chan struct{}),
	}

	r.member.WatchChildren(r.stop, func(peers []rpcapi.Peer) {
		r.Txn.OnPeerListChanged(peers)
	})
	go r.syncLoop()

	return r, nil
}

func (r *Replica) syncLoop() {
	ticker := time.NewTicker(SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), SyncInterval)
			if err := r.Txn.Sync(ctx); err != nil {
				r.log.Warn("replica: background sync failed", "err", err)
			}
			cancel()
			if r.metrics != nil {
				r.metrics.SyncRounds.Inc()
				r.metrics.PendingDepth.WithLabelValues(r.Doc.Name).Set(float64(r.Doc.PendingCount()))
			}
		case <-r.stop:
			return
		}
	}
}

// Stop signals the background watch/sync loops to exit and closes the
// membership session. It does not wait for a sync round already in
// progress to finish.
func (r *Replica) Stop() {
	close(r.stop)
	r.member.Close()
}
