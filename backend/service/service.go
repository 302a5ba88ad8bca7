package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/webrtc-matchmaker/backend/model"
	"github.com/adwski/webrtc-matchmaker/backend/storage/memory"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

var (
	ErrJoin         = errors.New("unable to join room")
	ErrPrepare      = errors.New("unable to prepare room")
	ErrReady        = errors.New("unable to signal readiness")
	ErrRelay        = errors.New("unable to relay message")
	ErrGet          = errors.New("unable to get room")
	ErrLeave        = errors.New("unable to leave room")
	ErrNotConnected = errors.New("connection is not established")
	ErrRoomNotFull  = errors.New("room is not full")
	ErrUnknownEvent = errors.New("unknown event type")
)

type (
	Switch interface {
		Attach(connID string, wire model.Wire)
		Detach(connID string)
		Subscribe(group, connID string)
		Unsubscribe(group, connID string)
		Send(connID string, ev model.Event) bool
		Broadcast(group string, ev model.Event, except string) int
		BroadcastAll(ev model.Event) int
	}

	// Service pairs peers into rooms and relays signaling between them.
	//
	// Peer registry and room table are guarded by a single mutex.
	// Every operation holds it from the first lookup until the last
	// broadcast is enqueued, so events of one operation are never
	// interleaved with state changes of another.
	Service struct {
		mx     *sync.Mutex
		store  *memory.MemStore
		sw     Switch
		conns  map[string]struct{}
		logger zerolog.Logger
	}

	Config struct {
		Store  *memory.MemStore
		Switch Switch
		Logger *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		mx:     &sync.Mutex{},
		store:  cfg.Store,
		sw:     cfg.Switch,
		conns:  make(map[string]struct{}),
		logger: cfg.Logger.With().Str("component", "matchmaker").Logger(),
	}
}

// Connect registers peer for a new connection and starts processing its inbound events.
// When ctx is canceled, the disconnect path runs and returned channel is closed.
func (svc *Service) Connect(ctx context.Context, connID string, wire model.Wire) <-chan struct{} {
	svc.mx.Lock()
	peer := svc.store.Peers.Register(connID)
	svc.sw.Attach(connID, wire)
	svc.conns[connID] = struct{}{}
	svc.broadcastOnline()
	svc.mx.Unlock()

	svc.logger.Debug().
		Str("conn", connID).
		Str("peerID", peer.ID).
		Msg("peer connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.serve(ctx, connID, wire.RX)
		svc.Disconnect(connID)
	}()
	return done
}

func (svc *Service) serve(ctx context.Context, connID string, rx <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-rx:
			_ = svc.Handle(connID, ev)
		}
	}
}

// Handle dispatches single inbound event.
// Returned error is informational, nothing is reported back to peers.
func (svc *Service) Handle(connID string, ev model.Event) error {
	var err error
	switch ev.Type {
	case model.EventJoin:
		_, err = svc.Join(connID, ev.Name)
	case model.EventPrepare:
		_, err = svc.Prepare(connID, prepareRoomID(ev))
	case model.EventReady:
		err = svc.Ready(connID, ev.RoomID)
	case model.EventICECandidate, model.EventOffer, model.EventAnswer:
		err = svc.Relay(connID, ev.Type, ev.RoomID, ev.Payload)
	case model.EventGetRoom:
		err = svc.GetRoom(ev.RoomID)
	case model.EventLeave:
		err = svc.Leave(connID, ev.RoomID, ev.Name)
	default:
		err = ErrUnknownEvent
	}
	if err != nil {
		svc.logger.Debug().Err(err).
			Str("conn", connID).
			Str("type", ev.Type).
			Msg("event dropped")
	}
	return err
}

// prepareRoomID takes room id either from event or from room snapshot sent as payload.
func prepareRoomID(ev model.Event) string {
	if ev.RoomID != "" || len(ev.Payload) == 0 {
		return ev.RoomID
	}
	var snap model.RoomSnapshot
	if err := json.Unmarshal(ev.Payload, &snap); err != nil {
		return ""
	}
	return snap.ID
}

// Join assigns peer to the oldest room with a free slot or to a new room.
func (svc *Service) Join(connID, name string) (model.RoomSnapshot, error) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if _, ok := svc.conns[connID]; !ok {
		return model.RoomSnapshot{}, errors.Join(ErrJoin, ErrNotConnected)
	}

	// Voluntary leave unregisters peer while connection stays alive.
	peer, err := svc.store.Peers.Find(connID)
	if err != nil {
		peer = svc.store.Peers.Register(connID)
	}

	if peer.RoomID != "" {
		room, errR := svc.store.Rooms.FindByID(peer.RoomID)
		if errR == nil {
			snap := room.Snapshot()
			svc.send(connID, model.EventJoined, snap)
			svc.broadcast(room.ID, model.EventRoom, snap, "")
			return snap, nil
		}
		peer.RoomID = ""
	}

	svc.store.Peers.SetName(peer, name)
	peer.State = model.StateSearching

	room, err := svc.store.Rooms.FindAvailable()
	if err != nil {
		room = svc.store.Rooms.Create()
	}
	if err = svc.store.Rooms.AddMember(room, peer); err != nil {
		return model.RoomSnapshot{}, errors.Join(ErrJoin, err)
	}
	svc.sw.Subscribe(room.ID, connID)

	snap := room.Snapshot()
	svc.logger.Debug().
		Str("conn", connID).
		Str("peerID", peer.ID).
		Str("roomID", room.ID).
		Int("members", len(room.Members)).
		Msg("peer joined room")
	svc.dump(snap)

	svc.send(connID, model.EventJoined, snap)
	svc.broadcast(room.ID, model.EventRoom, snap, "")
	svc.broadcastOnline()
	return snap, nil
}

// Prepare assigns host and guest roles in a full room
// and notifies the other member.
func (svc *Service) Prepare(connID, roomID string) (model.RoomSnapshot, error) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	room, err := svc.store.Rooms.FindByID(roomID)
	if err != nil {
		return model.RoomSnapshot{}, errors.Join(ErrPrepare, err)
	}
	if !room.Full() {
		return model.RoomSnapshot{}, errors.Join(ErrPrepare, ErrRoomNotFull)
	}

	room.Members[0].Role = model.RoleHost
	room.Members[1].Role = model.RoleGuest

	snap := room.Snapshot()
	svc.logger.Debug().
		Str("roomID", room.ID).
		Str("host", room.Members[0].ID).
		Str("guest", room.Members[1].ID).
		Msg("room prepared")

	svc.broadcast(room.ID, model.EventPrepared, snap, connID)
	return snap, nil
}

// Ready tells the other member that sender's peer connection is constructed.
func (svc *Service) Ready(connID, roomID string) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	room, err := svc.store.Rooms.FindByID(roomID)
	if err != nil {
		return errors.Join(ErrReady, err)
	}
	svc.broadcast(room.ID, model.EventReady, room.Snapshot(), connID)
	return nil
}

// Relay forwards opaque offer, answer or ice candidate to the other room member.
// If roomID is empty, sender's current room is used.
func (svc *Service) Relay(connID, kind, roomID string, payload json.RawMessage) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if roomID == "" {
		peer, err := svc.store.Peers.Find(connID)
		if err != nil {
			return errors.Join(ErrRelay, err)
		}
		if peer.RoomID == "" {
			return errors.Join(ErrRelay, memory.ErrRoomNotFound)
		}
		roomID = peer.RoomID
	}

	n := svc.sw.Broadcast(roomID, model.Event{Type: kind, Payload: payload}, connID)
	svc.logger.Trace().
		Str("conn", connID).
		Str("roomID", roomID).
		Str("type", kind).
		Int("delivered", n).
		Msg("signaling message relayed")
	return nil
}

// GetRoom re-sends current room snapshot to the whole room.
func (svc *Service) GetRoom(roomID string) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	room, err := svc.store.Rooms.FindByID(roomID)
	if err != nil {
		return errors.Join(ErrGet, err)
	}
	svc.broadcast(room.ID, model.EventRoom, room.Snapshot(), "")
	return nil
}

// Leave is voluntary departure. Peer is removed from its room and from
// the registry, connection stays open and may join again.
func (svc *Service) Leave(connID, roomID, name string) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if roomID != "" {
		svc.sw.Unsubscribe(roomID, connID)
	}

	peer, err := svc.store.Peers.Find(connID)
	if err != nil {
		return errors.Join(ErrLeave, err)
	}

	left, err := svc.leaveRoom(peer)
	if err == nil {
		svc.broadcast(left, model.EventLeft, nil, connID)
	}

	svc.store.Peers.Unregister(connID)
	svc.logger.Debug().
		Str("conn", connID).
		Str("peerID", peer.ID).
		Str("name", name).
		Str("roomID", left).
		Msg("peer left")

	svc.broadcastOnline()
	return nil
}

// Disconnect is the cleanup path for a closed connection. It is safe to call more than once.
func (svc *Service) Disconnect(connID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if peer, err := svc.store.Peers.Find(connID); err == nil {
		if left, errL := svc.leaveRoom(peer); errL == nil {
			svc.broadcast(left, model.EventPeerLeft, peer.Record(), connID)
		}
		svc.store.Peers.Unregister(connID)
		svc.broadcastOnline()

		svc.logger.Debug().
			Str("conn", connID).
			Str("peerID", peer.ID).
			Msg("peer disconnected")
	}

	if _, ok := svc.conns[connID]; ok {
		delete(svc.conns, connID)
		svc.sw.Detach(connID)
	}
}

// leaveRoom removes peer from its room and from the room broadcast group.
func (svc *Service) leaveRoom(peer *model.Peer) (string, error) {
	roomID := peer.RoomID
	if roomID == "" {
		return "", memory.ErrRoomNotFound
	}
	svc.sw.Unsubscribe(roomID, peer.ConnID)

	room, err := svc.store.Rooms.FindByID(roomID)
	if err != nil {
		peer.RoomID = ""
		return "", err
	}
	state := svc.store.Rooms.RemoveMember(room, peer)

	svc.logger.Debug().
		Str("peerID", peer.ID).
		Str("roomID", roomID).
		Stringer("room", state).
		Msg("peer removed from room")
	return roomID, nil
}

// OnlineCount returns number of registered peers.
func (svc *Service) OnlineCount() int {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	return svc.store.Peers.Count()
}

// Room returns current snapshot of the room.
func (svc *Service) Room(roomID string) (model.RoomSnapshot, error) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	room, err := svc.store.Rooms.FindByID(roomID)
	if err != nil {
		return model.RoomSnapshot{}, errors.Join(ErrGet, err)
	}
	return room.Snapshot(), nil
}

// Rooms returns snapshots of all rooms in creation order.
func (svc *Service) Rooms() []model.RoomSnapshot {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	return svc.store.Rooms.Snapshots()
}

func (svc *Service) send(connID, typ string, payload any) {
	ev, err := model.NewEvent(typ, payload)
	if err != nil {
		svc.logger.Error().Err(err).Str("type", typ).Msg("failed to marshal event payload")
		return
	}
	svc.sw.Send(connID, ev)
}

func (svc *Service) broadcast(roomID, typ string, payload any, except string) {
	ev, err := model.NewEvent(typ, payload)
	if err != nil {
		svc.logger.Error().Err(err).Str("type", typ).Msg("failed to marshal event payload")
		return
	}
	svc.sw.Broadcast(roomID, ev, except)
}

func (svc *Service) broadcastOnline() {
	ev, err := model.NewEvent(model.EventOnlineCount, svc.store.Peers.Count())
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to marshal online count")
		return
	}
	svc.sw.BroadcastAll(ev)
}

func (svc *Service) dump(snap model.RoomSnapshot) {
	if e := svc.logger.Trace(); e.Enabled() {
		e.Str("room", spew.Sdump(snap)).Msg("room state")
	}
}
