// Package rpcapi defines the wire contracts of the two RPC surfaces
// named in spec §6: the peer-to-peer CRDT sync RPC (GetRemoteUpdates,
// SyncPeerList) and the editor façade RPC (Register, Insert, Delete,
// GetString, End). Concrete transports (package transport) implement
// these interfaces; package synctxn and package editor consume them.
package rpcapi

import (
	"context"
	"encoding/json"

	"github.com/Polqt/yatadoc/block"
)

// Updates is the per-client slice of blocks exchanged during a sync
// round, keyed by originating client id on the wire.
type Updates = []block.Block

// PullRequest carries the initiator's vector clock so the responder
// can compute a diff. TargetClient selects which locally-hosted
// replica answers, since one process may host several (editor.Server)
// even though the original one-process-per-client design assumed it
// would always be exactly one.
type PullRequest struct {
	ClientID     uint32 `json:"client_id"`
	TargetClient uint32 `json:"target_client"`
	VectorClock  []byte `json:"vector_clock"` // JSON-encoded clock.VectorClock
}

// PullResponse carries the responder's computed per-client diff.
type PullResponse struct {
	ClientID uint32 `json:"client_id"`
	Updates  []byte `json:"updates"` // JSON-encoded map[uint32]Updates
}

// RegisterRequest notifies a peer that the membership roster changed.
type RegisterRequest struct {
	TargetClient uint32 `json:"target_client"`
	PeerList     []byte `json:"peer_list"` // JSON-encoded []Peer
}

// Status is a generic boolean RPC result.
type Status struct {
	Succ bool `json:"succ"`
}

// Peer names one other client editing the same document.
type Peer struct {
	ClientID uint32 `json:"client_id"`
	Addr     string `json:"ip_addr"`
}

// SyncServer is the server side of the CRDT sync RPC surface,
// implemented by synctxn.SyncTransaction and served by a transport.
type SyncServer interface {
	GetRemoteUpdates(ctx context.Context, req PullRequest) (PullResponse, error)
	SyncPeerList(ctx context.Context, req RegisterRequest) (Status, error)
}

// SyncClient is the client side of the CRDT sync RPC surface: a handle
// on one specific peer, used by synctxn.SyncTransaction.Sync.
type SyncClient interface {
	GetRemoteUpdates(ctx context.Context, req PullRequest) (PullResponse, error)
	SyncPeerList(ctx context.Context, req RegisterRequest) (Status, error)
	Close() error
}

// EditorServer is the editor façade RPC surface (§6 "RPC surface
// (editor façade)").
type EditorServer interface {
	Register(ctx context.Context, docName string, clientID uint32, addr string) error
	Insert(ctx context.Context, clientID uint32, pos int, text string) error
	Delete(ctx context.Context, clientID uint32, pos, length int) error
	GetString(ctx context.Context, clientID uint32) (string, error)
	End(ctx context.Context, clientID uint32) error
}

// Wire request/response shapes for the editor façade HTTP+JSON
// transport.
type EditorRegisterRequest struct {
	DocName  string `json:"doc_name"`
	ClientID uint32 `json:"client_id"`
	Addr     string `json:"client_ip"`
}

type EditorInsertRequest struct {
	ClientID uint32 `json:"client_id"`
	Pos      int    `json:"pos"`
	Text     string `json:"updates"`
}

type EditorDeleteRequest struct {
	ClientID uint32 `json:"client_id"`
	Pos      int    `json:"pos"`
	Len      int    `json:"len"`
}

type EditorClientRequest struct {
	ClientID uint32 `json:"client_id"`
}

type EditorGetStringResponse struct {
	EntireDoc string `json:"entire_doc"`
}

// MarshalUpdateMap is a small helper used by synctxn for encoding the
// per-client diff map onto the wire.
func MarshalUpdateMap(m map[uint32]Updates) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalUpdateMap is the inverse of MarshalUpdateMap.
func UnmarshalUpdateMap(data []byte) (map[uint32]Updates, error) {
	var m map[uint32]Updates
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalPeers and UnmarshalPeers encode/decode the peer-list notify
// payload.
func MarshalPeers(peers []Peer) ([]byte, error) {
	return json.Marshal(peers)
}

func UnmarshalPeers(data []byte) ([]Peer, error) {
	var peers []Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}
