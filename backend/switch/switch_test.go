package _switch

import (
	"testing"

	"github.com/adwski/webrtc-matchmaker/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch() *Switch {
	logger := zerolog.Nop()
	return NewSwitch(&logger)
}

func drain(tx chan model.Event) []model.Event {
	var evs []model.Event
	for {
		select {
		case ev := <-tx:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestSwitchBroadcastExcludesSender(t *testing.T) {
	sw := newTestSwitch()

	a, b, c := model.NewWire(4), model.NewWire(4), model.NewWire(4)
	sw.Attach("a", a)
	sw.Attach("b", b)
	sw.Attach("c", c)
	sw.Subscribe("room", "a")
	sw.Subscribe("room", "b")

	sent := sw.Broadcast("room", model.Event{Type: model.EventOffer}, "a")
	assert.Equal(t, 1, sent)
	assert.Empty(t, drain(a.TX))
	require.Len(t, drain(b.TX), 1)
	assert.Empty(t, drain(c.TX), "non member must not receive room events")

	sent = sw.Broadcast("room", model.Event{Type: model.EventRoom}, "")
	assert.Equal(t, 2, sent)
	assert.Len(t, drain(a.TX), 1)
	assert.Len(t, drain(b.TX), 1)
}

func TestSwitchBroadcastToLonelyMember(t *testing.T) {
	sw := newTestSwitch()

	a := model.NewWire(4)
	sw.Attach("a", a)
	sw.Subscribe("room", "a")

	assert.Equal(t, 0, sw.Broadcast("room", model.Event{Type: model.EventAnswer}, "a"))
	assert.Equal(t, 0, sw.Broadcast("missing", model.Event{Type: model.EventAnswer}, "a"))
	assert.Empty(t, drain(a.TX))
}

func TestSwitchBroadcastAllAndSend(t *testing.T) {
	sw := newTestSwitch()

	a, b := model.NewWire(4), model.NewWire(4)
	sw.Attach("a", a)
	sw.Attach("b", b)

	assert.Equal(t, 2, sw.BroadcastAll(model.Event{Type: model.EventOnlineCount}))
	assert.True(t, sw.Send("b", model.Event{Type: model.EventJoined}))
	assert.False(t, sw.Send("x", model.Event{Type: model.EventJoined}))

	assert.Len(t, drain(a.TX), 1)
	evs := drain(b.TX)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventJoined, evs[1].Type)
}

func TestSwitchDetach(t *testing.T) {
	sw := newTestSwitch()

	a, b := model.NewWire(4), model.NewWire(4)
	sw.Attach("a", a)
	sw.Attach("b", b)
	sw.Subscribe("room", "a")
	sw.Subscribe("room", "b")
	sw.Subscribe("other", "a")

	sw.Detach("a")
	assert.Equal(t, []string{"b"}, sw.Members("room"))
	assert.Empty(t, sw.Members("other"))

	stats := sw.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Groups)

	sw.Subscribe("room", "a")
	assert.Equal(t, []string{"b"}, sw.Members("room"), "detached connection cannot subscribe")

	sw.Unsubscribe("room", "b")
	assert.Empty(t, sw.Members("room"))
	assert.Equal(t, 0, sw.Stats().Groups)
}

func TestSwitchDropsWhenQueueIsFull(t *testing.T) {
	sw := newTestSwitch()

	a := model.NewWire(1)
	sw.Attach("a", a)

	assert.True(t, sw.Send("a", model.Event{Type: model.EventRoom}))
	assert.False(t, sw.Send("a", model.Event{Type: model.EventRoom}))

	stats := sw.Stats()
	assert.EqualValues(t, 1, stats.Delivered)
	assert.EqualValues(t, 1, stats.Dropped)
}
