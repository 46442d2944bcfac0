// Package membership implements the ZooKeeper-backed registry that
// tells a replica which peers are editing the same document (spec §7
// "Membership service"). The hierarchy is flat: one persistent znode
// per document at /<doc>, one persistent child per registered client
// at /<doc>/<client-id> holding that client's network address.
package membership

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/Polqt/yatadoc/rpcapi"
)

// Client wraps a ZooKeeper session scoped to one document's
// membership hierarchy.
type Client struct {
	conn    *zk.Conn
	log     *slog.Logger
	docPath string
}

// Dial connects to the ZooKeeper ensemble at addrs and returns a
// Client ready to Register under docName. The document's root znode
// is created if absent (idempotent — §"supplemented features").
func Dial(addrs []string, docName string, log *slog.Logger) (*Client, error) {
	conn, events, err := zk.Connect(addrs, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("membership: connect: %w", err)
	}
	go func() {
		for e := range events {
			if e.State == zk.StateDisconnected {
				log.Warn("membership: zk session disconnected")
			}
		}
	}()

	c := &Client{conn: conn, log: log, docPath: "/" + docName}
	if err := c.ensureDocNode(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// ensureDocNode creates the document's root znode if it does not
// already exist. Not an error if a concurrent registrant beats us to
// it (zk.ErrNodeExists).
func (c *Client) ensureDocNode() error {
	exists, _, err := c.conn.Exists(c.docPath)
	if err != nil {
		return fmt.Errorf("membership: exists(%s): %w", c.docPath, err)
	}
	if exists {
		return nil
	}
	_, err = c.conn.Create(c.docPath, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("membership: create(%s): %w", c.docPath, err)
	}
	return nil
}

// Register creates this client's exclusive child node holding addr,
// then returns the full up-to-date peer list (including self). Fails
// if client is already registered under this document.
func (c *Client) Register(client uint32, addr string) ([]rpcapi.Peer, error) {
	childPath := fmt.Sprintf("%s/%d", c.docPath, client)
	_, err := c.conn.Create(childPath, []byte(addr), 0, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("membership: register client %d: %w", client, err)
	}
	return c.ListChildren()
}

// ListChildren returns every currently registered peer for this
// document.
func (c *Client) ListChildren() ([]rpcapi.Peer, error) {
	children, _, err := c.conn.Children(c.docPath)
	if err != nil {
		return nil, fmt.Errorf("membership: children(%s): %w", c.docPath, err)
	}
	peers := make([]rpcapi.Peer, 0, len(children))
	for _, name := range children {
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			c.log.Warn("membership: skipping non-numeric child", "name", name)
			continue
		}
		data, _, err := c.conn.Get(c.docPath + "/" + name)
		if err != nil {
			c.log.Warn("membership: get child data failed", "name", name, "err", err)
			continue
		}
		peers = append(peers, rpcapi.Peer{ClientID: uint32(id), Addr: string(data)})
	}
	return peers, nil
}

// WatchChildren invokes onChange every time the document's child set
// changes, with the up-to-date peer list. ZooKeeper watches are
// one-shot: each firing re-arms a fresh ChildrenW call, matching the
// background_sync reconnect loop this is grounded on.
func (c *Client) WatchChildren(stop <-chan struct{}, onChange func([]rpcapi.Peer)) {
	go func() {
		for {
			_, _, events, err := c.conn.ChildrenW(c.docPath)
			if err != nil {
				c.log.Warn("membership: watch arm failed, retrying", "err", err)
				select {
				case <-time.After(time.Second):
					continue
				case <-stop:
					return
				}
			}
			select {
			case evt := <-events:
				if evt.Type == zk.EventNodeChildrenChanged {
					peers, err := c.ListChildren()
					if err != nil {
						c.log.Warn("membership: list after watch fired failed", "err", err)
						continue
					}
					onChange(peers)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Close releases the underlying ZooKeeper session.
func (c *Client) Close() {
	c.conn.Close()
}
