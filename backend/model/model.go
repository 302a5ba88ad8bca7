package model

import "encoding/json"

const (
	// RoomCapacity is the number of peers a room can hold.
	RoomCapacity = 2
)

type State string

const (
	StateDisconnectedInitial State = "disconnected-initial"
	StateSearching           State = "searching"
	StatePaired              State = "paired"
)

type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// RoomState is returned when a member is removed from a room.
type RoomState int

const (
	RoomActive RoomState = iota
	RoomDeleted
)

func (rs RoomState) String() string {
	if rs == RoomDeleted {
		return "deleted"
	}
	return "active"
}

// Peer is a single connected participant.
// Peers are owned by the peer registry, rooms only hold references.
type Peer struct {
	ConnID string
	ID     string
	Name   string
	State  State
	RoomID string
	Role   Role
}

// Record returns detached copy of the peer.
func (p *Peer) Record() PeerRecord {
	return PeerRecord{
		ID:     p.ID,
		Name:   p.Name,
		State:  p.State,
		RoomID: p.RoomID,
		Role:   p.Role,
	}
}

type Room struct {
	ID       string
	Capacity int
	Members  []*Peer

	// Seq is creation order used by first-fit matching.
	Seq uint64
}

func (r *Room) Full() bool {
	return len(r.Members) >= r.Capacity
}

func (r *Room) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		ID:       r.ID,
		Capacity: r.Capacity,
		Members:  make([]MemberSnapshot, 0, len(r.Members)),
	}
	for _, p := range r.Members {
		snap.Members = append(snap.Members, MemberSnapshot{
			PeerID: p.ID,
			Name:   p.Name,
			Role:   p.Role,
		})
	}
	return snap
}

type RoomSnapshot struct {
	ID       string           `json:"room_id"`
	Capacity int              `json:"capacity"`
	Members  []MemberSnapshot `json:"members"`
}

type MemberSnapshot struct {
	PeerID string `json:"peer_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role,omitempty"`
}

type PeerRecord struct {
	ID     string `json:"peer_id"`
	Name   string `json:"name"`
	State  State  `json:"state"`
	RoomID string `json:"room_id,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// Inbound event types.
const (
	EventJoin         = "join"
	EventPrepare      = "prepare"
	EventReady        = "ready"
	EventICECandidate = "ice-candidate"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventGetRoom      = "get-room"
	EventLeave        = "leave"
)

// Outbound event types. Relay kinds and "ready" keep their inbound names.
const (
	EventJoined      = "joined"
	EventRoom        = "room"
	EventPrepared    = "prepared"
	EventLeft        = "left"
	EventPeerLeft    = "peer-left"
	EventOnlineCount = "online-count"
)

// Event is a single signaling frame exchanged with a connection.
type Event struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds outbound event with payload marshaled to json.
// Nil payload produces event without payload.
func NewEvent(typ string, payload any) (Event, error) {
	ev := Event{Type: typ}
	if payload == nil {
		return ev, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = b
	return ev, nil
}

// Wire is a bidirectional event channel of a single connection.
// RX carries inbound events, TX outbound.
type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire(txSize int) Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event, txSize),
	}
}
