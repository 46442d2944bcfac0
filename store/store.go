// Package store implements BlockStore: the three coherent views over a
// document's block population described in spec §3 — the spatial
// sequence, the id index, and the per-client append-log — plus the
// split/delete/squash operations that keep them consistent (§4.1).
//
// BlockStore holds no lock of its own; spec §5 places a single coarse
// lock on Doc, which is the only caller of these methods, so every
// BlockStore call here is assumed to already be serialized.
package store

import (
	"fmt"
	"strings"

	"github.com/Polqt/yatadoc/block"
)

// Store is a content-addressable, order-preserving block population.
type Store struct {
	sequence []*block.Block
	byID     map[block.ID]*block.Block
	byClient map[uint32][]*block.Block
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:     make(map[block.ID]*block.Block),
		byClient: make(map[uint32][]*block.Block),
	}
}

// Exists reports whether id is already present (invariant I1).
func (s *Store) Exists(id block.ID) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the block with id, if present.
func (s *Store) Get(id block.ID) (*block.Block, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// ByClient returns the append-ordered list of blocks created by client.
// The returned slice must not be mutated by the caller.
func (s *Store) ByClient(client uint32) []*block.Block {
	return s.byClient[client]
}

// Len returns the number of blocks in spatial order.
func (s *Store) Len() int { return len(s.sequence) }

// At returns the block at spatial index i.
func (s *Store) At(i int) *block.Block { return s.sequence[i] }

// IndexOf returns the spatial index of id, or (-1, false) if absent.
func (s *Store) IndexOf(id block.ID) (int, bool) {
	b, ok := s.byID[id]
	if !ok {
		return -1, false
	}
	for i, cur := range s.sequence {
		if cur == b {
			return i, true
		}
	}
	// Unreachable under invariant I1: every indexed block also lives in
	// sequence.
	return -1, false
}

// FindContaining locates the block (if any) that either starts at id
// or whose span strictly contains id. Returns the block's spatial
// index.
func (s *Store) FindContaining(id block.ID) (int, bool) {
	for i, b := range s.sequence {
		if b.ID == id {
			return i, true
		}
		if b.Contains(id) {
			return i, true
		}
	}
	return -1, false
}

// InsertAfter places block immediately after the block with leftID in
// the sequence; leftID == nil places it at position 0. Precondition:
// block.ID is not already present.
func (s *Store) InsertAfter(b block.Block, leftID *block.ID) error {
	if s.Exists(b.ID) {
		return fmt.Errorf("store: block %s already present", b.ID)
	}
	nb := b.Clone()
	ptr := &nb

	idx := 0
	if leftID != nil {
		left, ok := s.byID[*leftID]
		if !ok {
			return fmt.Errorf("store: left anchor %s not found", *leftID)
		}
		for i, cur := range s.sequence {
			if cur == left {
				idx = i + 1
				break
			}
		}
	}

	s.sequence = append(s.sequence, nil)
	copy(s.sequence[idx+1:], s.sequence[idx:])
	s.sequence[idx] = ptr

	s.byID[ptr.ID] = ptr
	s.byClient[ptr.ID.Client] = append(s.byClient[ptr.ID.Client], ptr)
	return nil
}

// Delete sets the tombstone on the block with id. Idempotent; a no-op
// if id is absent.
func (s *Store) Delete(id block.ID) {
	if b, ok := s.byID[id]; ok {
		b.Deleted = true
	}
}

// Update overwrites the content of an existing block. Doc does not
// call it: re-applying an already-known block is a no-op there, and
// the CRDT algorithm itself never mutates content outside of Split.
func (s *Store) Update(b block.Block) {
	if cur, ok := s.byID[b.ID]; ok {
		cur.Content = b.Content
	}
}

// Split divides the block with id into a left piece of length k and a
// new right piece holding the remainder, per invariant I3. No-op if k
// is 0, k is >= the block's content length, or id is absent.
func (s *Store) Split(id block.ID, k int) {
	left, ok := s.byID[id]
	if !ok || k <= 0 || k >= len(left.Content) {
		return
	}

	rightID := block.ID{Client: id.Client, Clock: id.Clock + uint32(k)}
	right := block.Block{
		ID:          rightID,
		LeftOrigin:  &id,
		RightOrigin: left.RightOrigin,
		Deleted:     left.Deleted,
		Content:     left.Content[k:],
	}

	left.Content = left.Content[:k]
	left.RightOrigin = &rightID

	// Insert directly: bypass InsertAfter's "already present" guard
	// path since we already know the spatial position (right after
	// left) and want the split to be a single atomic splice.
	idx, _ := s.IndexOf(id)
	nb := right.Clone()
	ptr := &nb
	s.sequence = append(s.sequence, nil)
	copy(s.sequence[idx+2:], s.sequence[idx+1:])
	s.sequence[idx+1] = ptr
	s.byID[ptr.ID] = ptr
	s.byClient[ptr.ID.Client] = append(s.byClient[ptr.ID.Client], ptr)
}

// Squash merges block id with its left and/or right neighbour when all
// of: same client, both non-deleted, contiguous clock ranges, and the
// neighbours' clocks exceed latestSyncedClock (meaning no peer has
// observed them yet). Optional optimization; never required for
// correctness.
func (s *Store) Squash(id block.ID, latestSyncedClock uint32) {
	idx, ok := s.IndexOf(id)
	if !ok {
		return
	}
	self := s.sequence[idx]
	if self.Deleted {
		return
	}

	mergeable := func(a, b, neighbour *block.Block) bool {
		return a.ID.Client == b.ID.Client &&
			!a.Deleted && !b.Deleted &&
			a.ID.End(len(a.Content)) == b.ID.Clock &&
			neighbour.ID.Clock > latestSyncedClock
	}

	// self+right
	if idx+1 < len(s.sequence) {
		right := s.sequence[idx+1]
		if mergeable(self, right, right) {
			s.mergeInto(idx, idx+1)
		}
	}
	// left+self (re-fetch idx/self: the self+right merge may have
	// changed nothing about idx, but be defensive).
	idx, ok = s.IndexOf(id)
	if !ok {
		return
	}
	self = s.sequence[idx]
	if idx > 0 {
		left := s.sequence[idx-1]
		if mergeable(left, self, left) {
			s.mergeInto(idx-1, idx)
		}
	}
}

// mergeInto absorbs the block at index right into the block at index
// left (which must immediately precede it in the sequence and satisfy
// mergeable's preconditions), preserving I2 and the rendered string.
func (s *Store) mergeInto(left, right int) {
	l, r := s.sequence[left], s.sequence[right]
	l.Content += r.Content
	l.RightOrigin = r.RightOrigin

	delete(s.byID, r.ID)
	clientList := s.byClient[r.ID.Client]
	for i, b := range clientList {
		if b == r {
			s.byClient[r.ID.Client] = append(clientList[:i], clientList[i+1:]...)
			break
		}
	}
	s.sequence = append(s.sequence[:right], s.sequence[right+1:]...)
}

// Render concatenates the content of every non-tombstoned block in
// spatial order (invariant I5).
func (s *Store) Render() string {
	var sb strings.Builder
	for _, b := range s.sequence {
		if !b.Deleted {
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}

// VisibleLen returns the length of Render() without building the
// string, used by Doc's position-walking helpers.
func (s *Store) VisibleLen() int {
	n := 0
	for _, b := range s.sequence {
		if !b.Deleted {
			n += len(b.Content)
		}
	}
	return n
}
