package memory

import (
	"cmp"
	"errors"
	"slices"

	"github.com/adwski/webrtc-matchmaker/backend/model"
	"github.com/google/uuid"
)

var (
	ErrPeerNotFound = errors.New("peer is not found")
	ErrRoomNotFound = errors.New("room is not found")
	ErrRoomIsFull   = errors.New("room is full")
)

// IDGenerator produces opaque unique identifiers.
type IDGenerator func() string

func UUIDGenerator() string {
	return uuid.NewString()
}

// MemStore holds peer registry and room table.
//
// Neither of them does any locking. Multi-step operations span both tables,
// so the owner must serialize all access with a single lock.
type MemStore struct {
	Peers *PeerRegistry
	Rooms *RoomTable
}

func NewMemStore(gen IDGenerator) *MemStore {
	if gen == nil {
		gen = UUIDGenerator
	}
	return &MemStore{
		Peers: &PeerRegistry{
			genID: gen,
			peers: make(map[string]*model.Peer),
		},
		Rooms: &RoomTable{
			genID: gen,
			rooms: make(map[string]*model.Room),
		},
	}
}

// PeerRegistry tracks connected peers by connection id.
type PeerRegistry struct {
	genID IDGenerator
	peers map[string]*model.Peer
}

// Register creates peer for connection. If connection is already
// registered, existing peer is returned.
func (pr *PeerRegistry) Register(connID string) *model.Peer {
	if p, ok := pr.peers[connID]; ok {
		return p
	}
	p := &model.Peer{
		ConnID: connID,
		ID:     pr.genID(),
		State:  model.StateDisconnectedInitial,
	}
	pr.peers[connID] = p
	return p
}

func (pr *PeerRegistry) Find(connID string) (*model.Peer, error) {
	p, ok := pr.peers[connID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

func (pr *PeerRegistry) SetName(p *model.Peer, name string) {
	p.Name = name
}

func (pr *PeerRegistry) Unregister(connID string) {
	delete(pr.peers, connID)
}

func (pr *PeerRegistry) Count() int {
	return len(pr.peers)
}

// RoomTable tracks open rooms.
//
// Rooms under capacity are additionally kept in creation order,
// so first-fit lookup does not scan the whole table.
type RoomTable struct {
	genID IDGenerator
	seq   uint64
	rooms map[string]*model.Room
	open  []*model.Room
}

// FindAvailable returns the oldest room which is not full.
func (rt *RoomTable) FindAvailable() (*model.Room, error) {
	if len(rt.open) == 0 {
		return nil, ErrRoomNotFound
	}
	return rt.open[0], nil
}

func (rt *RoomTable) Create() *model.Room {
	rt.seq++
	room := &model.Room{
		ID:       rt.genID(),
		Capacity: model.RoomCapacity,
		Members:  make([]*model.Peer, 0, model.RoomCapacity),
		Seq:      rt.seq,
	}
	rt.rooms[room.ID] = room
	rt.markOpen(room)
	return room
}

func (rt *RoomTable) FindByID(roomID string) (*model.Room, error) {
	room, ok := rt.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// AddMember appends peer to room members. When room reaches capacity
// every member becomes paired.
func (rt *RoomTable) AddMember(room *model.Room, peer *model.Peer) error {
	if room.Full() {
		return ErrRoomIsFull
	}
	room.Members = append(room.Members, peer)
	peer.RoomID = room.ID

	if room.Full() {
		rt.unmarkOpen(room)
		for _, m := range room.Members {
			m.State = model.StatePaired
		}
	}
	return nil
}

// RemoveMember removes peer from room and resets its room state.
// Emptied room is deleted from the table.
//
// Remaining member goes back to searching and roles are cleared
// since they are only valid for a full room.
func (rt *RoomTable) RemoveMember(room *model.Room, peer *model.Peer) model.RoomState {
	room.Members = slices.DeleteFunc(room.Members, func(m *model.Peer) bool {
		return m == peer
	})
	peer.State = model.StateSearching
	peer.RoomID = ""
	peer.Role = model.RoleNone

	if len(room.Members) == 0 {
		delete(rt.rooms, room.ID)
		rt.unmarkOpen(room)
		return model.RoomDeleted
	}

	for _, m := range room.Members {
		m.State = model.StateSearching
		m.Role = model.RoleNone
	}
	rt.markOpen(room)
	return model.RoomActive
}

func (rt *RoomTable) Len() int {
	return len(rt.rooms)
}

// OpenLen returns number of rooms under capacity.
func (rt *RoomTable) OpenLen() int {
	return len(rt.open)
}

// Snapshots returns all rooms in creation order.
func (rt *RoomTable) Snapshots() []model.RoomSnapshot {
	rooms := make([]*model.Room, 0, len(rt.rooms))
	for _, room := range rt.rooms {
		rooms = append(rooms, room)
	}
	slices.SortFunc(rooms, bySeq)

	snaps := make([]model.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snaps = append(snaps, room.Snapshot())
	}
	return snaps
}

func (rt *RoomTable) markOpen(room *model.Room) {
	idx, found := slices.BinarySearchFunc(rt.open, room, bySeq)
	if found {
		return
	}
	rt.open = slices.Insert(rt.open, idx, room)
}

func (rt *RoomTable) unmarkOpen(room *model.Room) {
	idx, found := slices.BinarySearchFunc(rt.open, room, bySeq)
	if !found {
		return
	}
	rt.open = slices.Delete(rt.open, idx, idx+1)
}

func bySeq(a, b *model.Room) int {
	return cmp.Compare(a.Seq, b.Seq)
}
