package _switch

import (
	"sync"

	"github.com/adwski/webrtc-matchmaker/backend/model"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Switch keeps connection wires and room broadcast groups.
//
// Delivery never blocks: event is put into connection's TX queue
// or dropped if queue is full.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	conns  map[string]model.Wire
	groups map[string]map[string]struct{}

	// reverse index: connection -> groups
	subs map[string]map[string]struct{}

	delivered *atomic.Int64
	dropped   *atomic.Int64
}

type Stats struct {
	Connections int   `json:"connections"`
	Groups      int   `json:"groups"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger:    logger.With().Str("component", "switch").Logger(),
		mx:        &sync.RWMutex{},
		conns:     make(map[string]model.Wire),
		groups:    make(map[string]map[string]struct{}),
		subs:      make(map[string]map[string]struct{}),
		delivered: atomic.NewInt64(0),
		dropped:   atomic.NewInt64(0),
	}
}

func (sw *Switch) Attach(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.conns[connID] = wire
	sw.mx.Unlock()

	sw.logger.Debug().Str("conn", connID).Msg("connection attached")
}

// Detach removes connection and all its group subscriptions.
func (sw *Switch) Detach(connID string) {
	sw.mx.Lock()
	for group := range sw.subs[connID] {
		sw.unsubscribe(group, connID)
	}
	delete(sw.subs, connID)
	delete(sw.conns, connID)
	sw.mx.Unlock()

	sw.logger.Debug().Str("conn", connID).Msg("connection detached")
}

func (sw *Switch) Subscribe(group, connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.conns[connID]; !ok {
		sw.logger.Debug().
			Str("group", group).
			Str("conn", connID).
			Msg("cannot subscribe, connection is not attached")
		return
	}

	members, ok := sw.groups[group]
	if !ok {
		members = make(map[string]struct{})
		sw.groups[group] = members
	}
	members[connID] = struct{}{}

	groups, ok := sw.subs[connID]
	if !ok {
		groups = make(map[string]struct{})
		sw.subs[connID] = groups
	}
	groups[group] = struct{}{}
}

func (sw *Switch) Unsubscribe(group, connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	sw.unsubscribe(group, connID)
}

func (sw *Switch) unsubscribe(group, connID string) {
	if members, ok := sw.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(sw.groups, group)
		}
	}
	if groups, ok := sw.subs[connID]; ok {
		delete(groups, group)
	}
}

// Send delivers event to a single connection.
func (sw *Switch) Send(connID string, ev model.Event) bool {
	sw.mx.RLock()
	wire, ok := sw.conns[connID]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("dst", connID).
			Str("type", ev.Type).
			Msg("cannot send, dst not found")
		return false
	}
	return sw.send(connID, ev, wire.TX)
}

// Broadcast delivers event to every group member except the given connection.
// Empty except means everyone. Returns number of connections reached.
func (sw *Switch) Broadcast(group string, ev model.Event, except string) int {
	sw.mx.RLock()
	targets := make(map[string]model.Wire, len(sw.groups[group]))
	for connID := range sw.groups[group] {
		if connID != except {
			targets[connID] = sw.conns[connID]
		}
	}
	sw.mx.RUnlock()

	sent := sw.fanOut(targets, ev)
	if sent == 0 {
		sw.logger.Debug().
			Str("group", group).
			Str("type", ev.Type).
			Str("src", except).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

// BroadcastAll delivers event to every attached connection.
func (sw *Switch) BroadcastAll(ev model.Event) int {
	sw.mx.RLock()
	targets := make(map[string]model.Wire, len(sw.conns))
	for connID, wire := range sw.conns {
		targets[connID] = wire
	}
	sw.mx.RUnlock()

	return sw.fanOut(targets, ev)
}

// Members returns connections subscribed to group.
func (sw *Switch) Members(group string) []string {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	members := make([]string, 0, len(sw.groups[group]))
	for connID := range sw.groups[group] {
		members = append(members, connID)
	}
	return members
}

func (sw *Switch) Stats() Stats {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	return Stats{
		Connections: len(sw.conns),
		Groups:      len(sw.groups),
		Delivered:   sw.delivered.Load(),
		Dropped:     sw.dropped.Load(),
	}
}

func (sw *Switch) fanOut(targets map[string]model.Wire, ev model.Event) int {
	var sent int
	for connID, wire := range targets {
		if sw.send(connID, ev, wire.TX) {
			sent++
		}
	}
	return sent
}

func (sw *Switch) send(connID string, ev model.Event, tx chan<- model.Event) bool {
	select {
	case tx <- ev:
		sw.delivered.Inc()
		sw.logger.Trace().
			Str("dst", connID).
			Str("type", ev.Type).
			Msg("event is forwarded")
		return true
	default:
		sw.dropped.Inc()
		sw.logger.Error().
			Str("dst", connID).
			Str("type", ev.Type).
			Msg("tx queue is full, event dropped")
		return false
	}
}
