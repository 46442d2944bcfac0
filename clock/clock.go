// Package clock implements VectorClock: the per-client monotonic
// counters used to diff two replicas' append-logs during sync (spec
// §3, §4.2).
package clock

import (
	"encoding/json"
	"strconv"
)

// VectorClock maps client id to that client's next unused append-log
// clock value (equivalently, the total number of characters that
// client has ever inserted).
type VectorClock struct {
	m map[uint32]uint32
}

// New returns an empty VectorClock.
func New() *VectorClock {
	return &VectorClock{m: make(map[uint32]uint32)}
}

// Get returns the clock for client, or 0 if absent.
func (v *VectorClock) Get(client uint32) uint32 {
	if v == nil {
		return 0
	}
	return v.m[client]
}

// Set assigns the clock for client directly.
func (v *VectorClock) Set(client, val uint32) {
	if v.m == nil {
		v.m = make(map[uint32]uint32)
	}
	v.m[client] = val
}

// Add increments client's clock by delta.
func (v *VectorClock) Add(client uint32, delta uint32) {
	v.Set(client, v.Get(client)+delta)
}

// Clients returns every client id with a recorded clock.
func (v *VectorClock) Clients() []uint32 {
	out := make([]uint32, 0, len(v.m))
	for c := range v.m {
		out = append(out, c)
	}
	return out
}

// Clone returns a deep copy.
func (v *VectorClock) Clone() *VectorClock {
	out := New()
	for c, val := range v.m {
		out.m[c] = val
	}
	return out
}

// LessEq reports whether v is pointwise less than or equal to other:
// ∀c: v[c] <= other[c]. Clients present in one but not the other are
// treated as present with value 0 in the missing side.
func (v *VectorClock) LessEq(other *VectorClock) bool {
	for c, val := range v.m {
		if val > other.Get(c) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the stable wire form from spec §6: an object
// mapping stringified client id to integer clock.
func (v VectorClock) MarshalJSON() ([]byte, error) {
	wire := make(map[string]uint32, len(v.m))
	for c, val := range v.m {
		wire[strconv.FormatUint(uint64(c), 10)] = val
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the wire form from spec §6.
func (v *VectorClock) UnmarshalJSON(data []byte) error {
	var wire map[string]uint32
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	v.m = make(map[uint32]uint32, len(wire))
	for k, val := range wire {
		c, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return err
		}
		v.m[uint32(c)] = val
	}
	return nil
}
