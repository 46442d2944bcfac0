// Package doc implements Doc: the per-client local view of a shared
// document. Doc owns the BlockStore, the vector clock, the peer
// address table, and the pending buffer, and is the only caller of
// BlockStore's mutating methods — it holds the single coarse lock
// spec §5 describes ("Doc (and transitively its BlockStore) is
// wrapped in a single exclusive lock per replica").
package doc

import (
	"sync"

	"github.com/Polqt/yatadoc/block"
	"github.com/Polqt/yatadoc/clock"
	"github.com/Polqt/yatadoc/store"
)

// Outcome is the result of attempting to integrate a remote block.
type Outcome int

const (
	// Applied means the block (or an identical duplicate of it) is now
	// reflected in the local sequence.
	Applied Outcome = iota
	// Deferred means one of the block's anchors is not yet present
	// locally; it has been buffered for retry.
	Deferred
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "deferred"
}

// Doc is the collaboratively edited document owned by one client.
type Doc struct {
	mu sync.Mutex

	Name   string
	Client uint32
	Store  *store.Store
	Clock  *clock.VectorClock

	// Peers maps peer client id to network address.
	Peers map[uint32]string

	// Pending holds remote blocks whose anchors are not yet present.
	Pending []block.Block
}

// New creates an empty Doc owned by client.
func New(name string, client uint32) *Doc {
	return &Doc{
		Name:   name,
		Client: client,
		Store:  store.New(),
		Clock:  clock.New(),
		Peers:  make(map[uint32]string),
	}
}

// Render returns the current visible document text.
func (d *Doc) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Store.Render()
}

// PendingCount returns the number of buffered deferred updates.
func (d *Doc) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Pending)
}

// VectorClockSnapshot returns a detached copy of the current vector
// clock, safe to serialize or compare without holding Doc's lock.
func (d *Doc) VectorClockSnapshot() *clock.VectorClock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Clock.Clone()
}

// InitOwnClock resets this replica's own vector-clock entry to 0,
// used by synctxn.Register on first contact with membership.
func (d *Doc) InitOwnClock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Clock.Set(d.Client, 0)
}

// PeersSnapshot returns a detached copy of the current peer address
// table, safe to range over without holding Doc's lock.
func (d *Doc) PeersSnapshot() map[uint32]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]string, len(d.Peers))
	for id, addr := range d.Peers {
		out[id] = addr
	}
	return out
}

// AddPeer records a newly discovered peer's address, additive-merge
// semantics (never removes an existing entry).
func (d *Doc) AddPeer(client uint32, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.Peers[client]; !known {
		d.Peers[client] = addr
	}
}

// HasPeer reports whether client is already known.
func (d *Doc) HasPeer(client uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.Peers[client]
	return ok
}

// UpdatesSince returns client's blocks whose clock is at or past
// fromClock — the per-client slice SyncTransaction.GetRemoteUpdates
// needs to answer a PullRequest.
func (d *Doc) UpdatesSince(client uint32, fromClock uint32) []block.Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.Store.ByClient(client)
	var out []block.Block
	for _, b := range all {
		if b.ID.Clock >= fromClock {
			out = append(out, b.Clone())
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────
// Local operations (§4.3)
// ─────────────────────────────────────────────────────────────

// InsertLocal inserts text into the rendered string at character
// offset pos, clamped to [0, |render|].
func (d *Doc) InsertLocal(text string, pos int) {
	if text == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.Store.VisibleLen()
	if pos < 0 {
		pos = 0
	} else if pos > n {
		pos = n
	}

	idx := 0
	prevCount := 0
	for prevCount < pos && idx < d.Store.Len() {
		b := d.Store.At(idx)
		if !b.Deleted {
			prevCount += len(b.Content)
		}
		idx++
	}

	clk := d.Clock.Get(d.Client)
	newBlock := block.Block{
		ID:      block.ID{Client: d.Client, Clock: clk},
		Content: text,
	}

	var leftID *block.ID
	leftLen := 0
	if idx > 0 {
		l := d.Store.At(idx - 1)
		id := l.ID
		leftID = &id
		leftLen = len(l.Content)
	}

	switch {
	case idx == d.Store.Len() && pos >= n:
		// Case A: append at the tail.
		newBlock.LeftOrigin = leftID
		_ = d.Store.InsertAfter(newBlock, leftID)

	case prevCount == pos:
		// Case B: the boundary falls exactly between two blocks.
		newBlock.LeftOrigin = leftID
		if idx < d.Store.Len() {
			rid := d.Store.At(idx).ID
			newBlock.RightOrigin = &rid
		}
		_ = d.Store.InsertAfter(newBlock, leftID)

	default:
		// Case C: the boundary lands inside the left block — split it
		// so the left piece ends exactly at pos.
		splitAt := leftLen - (prevCount - pos)
		rightOriginID := block.ID{Client: leftID.Client, Clock: leftID.Clock + uint32(splitAt)}
		newBlock.LeftOrigin = leftID
		newBlock.RightOrigin = &rightOriginID
		d.Store.Split(*leftID, splitAt)
		_ = d.Store.InsertAfter(newBlock, leftID)
	}

	d.Clock.Add(d.Client, uint32(len(text)))
}

// DeleteLocal removes length visible characters starting at pos. A
// no-op if pos is at or past the end of the document; length is
// clamped to the remaining visible length.
func (d *Doc) DeleteLocal(pos, length int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	docLen := d.Store.VisibleLen()
	if pos < 0 || pos >= docLen || length <= 0 {
		return
	}
	if pos+length > docLen {
		length = docLen - pos
	}

	leftIdx := 0
	posLimitLeft := -1
	for leftIdx < d.Store.Len() {
		b := d.Store.At(leftIdx)
		if !b.Deleted {
			posLimitLeft += len(b.Content)
		}
		if posLimitLeft < pos {
			leftIdx++
		} else {
			break
		}
	}
	if leftIdx >= d.Store.Len() {
		return
	}

	rightIdx := leftIdx
	posEnd := pos + length - 1
	posLimitRight := posLimitLeft
	for posLimitRight < posEnd {
		rightIdx++
		if rightIdx >= d.Store.Len() {
			return
		}
		b := d.Store.At(rightIdx)
		if !b.Deleted {
			posLimitRight += len(b.Content)
		}
	}

	startID := d.Store.At(leftIdx).ID
	startContent := d.Store.At(leftIdx).Content
	endID := d.Store.At(rightIdx).ID
	endContent := d.Store.At(rightIdx).Content

	if leftIdx == rightIdx {
		blockID := startID
		leftLen := len(startContent) - (posLimitLeft - pos + 1)
		newBlockID := blockID
		if leftLen != 0 {
			d.Store.Split(blockID, leftLen)
			newBlockID = block.ID{Client: blockID.Client, Clock: blockID.Clock + uint32(leftLen)}
		}
		if posEnd == posLimitRight {
			d.Store.Delete(newBlockID)
		} else {
			d.Store.Split(newBlockID, length)
			d.Store.Delete(newBlockID)
		}
		return
	}

	for i := leftIdx + 1; i < rightIdx; i++ {
		d.Store.Delete(d.Store.At(i).ID)
	}

	leftBlockLen := len(startContent)
	leftLen := leftBlockLen - (posLimitLeft - pos + 1)
	blkIDToDel := startID
	if leftLen != 0 {
		d.Store.Split(startID, leftLen)
		blkIDToDel = block.ID{Client: startID.Client, Clock: startID.Clock + uint32(leftLen)}
	}
	d.Store.Delete(blkIDToDel)

	rightBlockLen := len(endContent)
	rightLen := rightBlockLen - (posLimitRight - posEnd)
	if posLimitRight != posEnd {
		d.Store.Split(endID, rightLen)
	}
	d.Store.Delete(endID)
}

// Squash attempts to merge the block id with its contiguous,
// not-yet-synced same-client neighbours (§4.1). Safe to call at any
// quiescent point; never required for correctness.
func (d *Doc) Squash(id block.ID, latestSyncedClock uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Store.Squash(id, latestSyncedClock)
}

// ─────────────────────────────────────────────────────────────
// Remote integration — the YATA algorithm (§4.4)
// ─────────────────────────────────────────────────────────────

// IntegrateRemote resolves the insertion position of a remotely
// originated block and splices it into the sequence, or buffers it if
// its anchors are not yet present.
func (d *Doc) IntegrateRemote(b block.Block) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flushPendingLocked()
	outcome := d.integrateRemoteLocked(b)
	if outcome == Deferred {
		d.Pending = append(d.Pending, b.Clone())
	} else {
		d.flushPendingLocked()
	}
	return outcome
}

// DeleteRemote tombstones the block named by b.ID, splitting an
// existing block first if the id falls inside its span. Buffers the
// request if no matching or containing block exists locally yet.
func (d *Doc) DeleteRemote(b block.Block) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flushPendingLocked()
	outcome := d.deleteRemoteLocked(b)
	if outcome == Deferred {
		d.Pending = append(d.Pending, b.Clone())
	} else {
		d.flushPendingLocked()
	}
	return outcome
}

func (d *Doc) integrateRemoteLocked(b block.Block) Outcome {
	if d.Store.Exists(b.ID) {
		return Applied
	}

	left, ok := d.findAnchorIndex(b.LeftOrigin, true)
	if !ok {
		return Deferred
	}
	right, ok := d.findAnchorIndex(b.RightOrigin, false)
	if !ok {
		return Deferred
	}

	i := left + 1
	scan := false
	dest := left + 1

scanLoop:
	for {
		if !scan {
			dest = i
		}
		if i == d.Store.Len() || i == right {
			break scanLoop
		}

		curr := d.Store.At(i)
		curLeft, _ := d.findAnchorIndex(curr.LeftOrigin, true)
		curRight, _ := d.findAnchorIndex(curr.RightOrigin, false)

		switch {
		case curLeft < left:
			break scanLoop
		case curLeft == left && curRight < right:
			scan = true
			i++
		case curLeft == left && curRight == right:
			if b.ID.Less(curr.ID) {
				break scanLoop
			}
			scan = false
			i++
		case curLeft == left && curRight > right:
			scan = false
			i++
		default: // curLeft > left
			i++
		}
	}

	var leftID *block.ID
	if dest > 0 {
		id := d.Store.At(dest - 1).ID
		leftID = &id
	}
	if err := d.Store.InsertAfter(b, leftID); err != nil {
		return Applied
	}
	d.Clock.Add(b.ID.Client, uint32(len(b.Content)))
	return Applied
}

func (d *Doc) deleteRemoteLocked(b block.Block) Outcome {
	id := b.ID
	for i := 0; i < d.Store.Len(); i++ {
		cur := d.Store.At(i)
		if cur.ID == id {
			d.Store.Delete(id)
			return Applied
		}
		if cur.Contains(id) {
			k := int(id.Clock - cur.ID.Clock)
			d.Store.Split(cur.ID, k)
			d.Store.Delete(id)
			return Applied
		}
	}
	return Deferred
}

// findAnchorIndex resolves an optional anchor BlockID to a sequence
// index, splitting an existing block if the anchor falls inside its
// span (spec §4.4 step 2). isLeft selects the None convention: -1 for
// a left anchor, len(sequence) for a right anchor.
func (d *Doc) findAnchorIndex(anchor *block.ID, isLeft bool) (int, bool) {
	if anchor == nil {
		if isLeft {
			return -1, true
		}
		return d.Store.Len(), true
	}

	for i := 0; i < d.Store.Len(); i++ {
		b := d.Store.At(i)
		if b.ID == *anchor {
			return i, true
		}
		if b.Contains(*anchor) {
			k := int(anchor.Clock - b.ID.Clock)
			d.Store.Split(b.ID, k)
			return i + 1, true
		}
	}
	return 0, false
}

func (d *Doc) flushPendingLocked() {
	if len(d.Pending) == 0 {
		return
	}
	var remaining []block.Block
	for _, p := range d.Pending {
		var outcome Outcome
		if p.Deleted {
			outcome = d.deleteRemoteLocked(p)
		} else {
			outcome = d.integrateRemoteLocked(p)
		}
		if outcome == Deferred {
			remaining = append(remaining, p)
		}
	}
	d.Pending = remaining
}
