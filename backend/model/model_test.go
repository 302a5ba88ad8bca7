package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSnapshotIsDetached(t *testing.T) {
	host := &Peer{ID: "p1", Name: "alice", Role: RoleHost}
	guest := &Peer{ID: "p2", Name: "bob", Role: RoleGuest}
	room := &Room{ID: "r1", Capacity: RoomCapacity, Members: []*Peer{host, guest}}

	snap := room.Snapshot()
	host.Name = "mallory"

	assert.True(t, room.Full())
	assert.Equal(t, RoomSnapshot{
		ID:       "r1",
		Capacity: 2,
		Members: []MemberSnapshot{
			{PeerID: "p1", Name: "alice", Role: RoleHost},
			{PeerID: "p2", Name: "bob", Role: RoleGuest},
		},
	}, snap)
}

func TestSnapshotWireShape(t *testing.T) {
	room := &Room{ID: "r1", Capacity: RoomCapacity, Members: []*Peer{{ID: "p1", Name: "alice"}}}

	b, err := json.Marshal(room.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"room_id":"r1","capacity":2,"members":[{"peer_id":"p1","name":"alice"}]}`, string(b))

	empty := &Room{ID: "r2", Capacity: RoomCapacity}
	b, err = json.Marshal(empty.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"room_id":"r2","capacity":2,"members":[]}`, string(b))
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventLeft, nil)
	require.NoError(t, err)
	assert.Equal(t, Event{Type: EventLeft}, ev)

	ev, err = NewEvent(EventOnlineCount, 5)
	require.NoError(t, err)
	assert.JSONEq(t, "5", string(ev.Payload))

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"online-count","payload":5}`, string(b))

	_, err = NewEvent(EventRoom, make(chan int))
	assert.Error(t, err)
}

func TestRoomState(t *testing.T) {
	assert.Equal(t, "active", RoomActive.String())
	assert.Equal(t, "deleted", RoomDeleted.String())
}
