// Package block defines the identity and content primitives of the YATA
// block store: BlockID, Block, and the comparisons used to resolve
// concurrent insertions deterministically.
package block

import (
	"encoding/json"
	"fmt"
)

// ID is a globally-unique, totally-ordered identifier for a block.
// Client is the replica that created the block; Clock is the index of
// the block's first character within that replica's append-log. The
// pair is never reused once assigned.
type ID struct {
	Client uint32
	Clock  uint32
}

// Less implements the total order on IDs: primary key Client, secondary
// key Clock. Used to break ties between concurrent inserts sharing the
// same (left, right) anchors.
func (id ID) Less(other ID) bool {
	if id.Client != other.Client {
		return id.Client < other.Client
	}
	return id.Clock < other.Clock
}

func (id ID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Client, id.Clock)
}

// End returns the clock one past the last character owned by id for a
// block of the given content length — the clock of whatever block would
// immediately follow it in the same client's append-log.
func (id ID) End(contentLen int) uint32 {
	return id.Clock + uint32(contentLen)
}

// Block is one immutable-identity span of text. LeftOrigin and
// RightOrigin are nil to mean "beginning"/"end" of the document
// respectively. Content is never empty; Deleted is a monotonic
// false→true tombstone flag.
type Block struct {
	ID          ID
	LeftOrigin  *ID
	RightOrigin *ID
	Deleted     bool
	Content     string
}

// Clone returns a deep copy safe to mutate independently of b.
func (b Block) Clone() Block {
	out := b
	if b.LeftOrigin != nil {
		l := *b.LeftOrigin
		out.LeftOrigin = &l
	}
	if b.RightOrigin != nil {
		r := *b.RightOrigin
		out.RightOrigin = &r
	}
	return out
}

// Contains reports whether id names a clock that falls strictly inside
// b's span, i.e. b would need to be split for id to become a block
// boundary.
func (b Block) Contains(id ID) bool {
	return id.Client == b.ID.Client &&
		b.ID.Clock < id.Clock &&
		id.Clock < b.ID.End(len(b.Content))
}

// wireID and wireBlock are the JSON-over-the-wire shape from spec §6:
// explicit null for absent origins, decimal client/clock pairs.
type wireID struct {
	Client uint32 `json:"client"`
	Clock  uint32 `json:"clock"`
}

type wireBlock struct {
	ID          wireID  `json:"id"`
	LeftOrigin  *wireID `json:"left_origin"`
	RightOrigin *wireID `json:"right_origin"`
	IsDeleted   bool    `json:"is_deleted"`
	Content     string  `json:"content"`
}

// MarshalJSON renders the wire payload shape described in spec §6.
func (b Block) MarshalJSON() ([]byte, error) {
	w := wireBlock{
		ID:        wireID{b.ID.Client, b.ID.Clock},
		IsDeleted: b.Deleted,
		Content:   b.Content,
	}
	if b.LeftOrigin != nil {
		w.LeftOrigin = &wireID{b.LeftOrigin.Client, b.LeftOrigin.Clock}
	}
	if b.RightOrigin != nil {
		w.RightOrigin = &wireID{b.RightOrigin.Client, b.RightOrigin.Clock}
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire payload shape described in spec §6.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.ID = ID{w.ID.Client, w.ID.Clock}
	b.Deleted = w.IsDeleted
	b.Content = w.Content
	if w.LeftOrigin != nil {
		id := ID{w.LeftOrigin.Client, w.LeftOrigin.Clock}
		b.LeftOrigin = &id
	} else {
		b.LeftOrigin = nil
	}
	if w.RightOrigin != nil {
		id := ID{w.RightOrigin.Client, w.RightOrigin.Clock}
		b.RightOrigin = &id
	} else {
		b.RightOrigin = nil
	}
	return nil
}
