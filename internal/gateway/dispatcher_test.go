package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/rooms"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (s *fakeSender) Send(connID string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[connID] = append(s.sent[connID], data)
	return true
}

func (s *fakeSender) received(connID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[connID]
}

type fakeForwarder struct {
	rooms []string
	err   error
}

func (f *fakeForwarder) Forward(_ context.Context, room string, _ events.ServerEvent) error {
	f.rooms = append(f.rooms, room)
	return f.err
}

func mustEvent(t *testing.T, typ events.ServerType, payload any) events.ServerEvent {
	t.Helper()
	evt, err := events.NewServerEvent(typ, time.Unix(50, 0).UTC(), payload)
	require.NoError(t, err)
	return evt
}

func TestBroadcastDeliversToMembersOnly(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	d := NewDispatcher(reg, sender, nil)

	reg.Join("member-1", "leaderboard:global")
	reg.Join("member-2", "leaderboard:global")
	reg.Join("outsider", "leaderboard:eu")

	evt := mustEvent(t, events.ServerRankChange, events.RankChangePayload{PlayerID: "p1"})
	require.NoError(t, d.Broadcast(context.Background(), "leaderboard:global", evt))

	assert.Len(t, sender.received("member-1"), 1)
	assert.Len(t, sender.received("member-2"), 1)
	assert.Empty(t, sender.received("outsider"))
}

func TestBroadcastAfterLeaveIsNotDelivered(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	d := NewDispatcher(reg, sender, nil)

	reg.Join("conn-1", "match:m1")
	reg.Leave("conn-1", "match:m1")

	evt := mustEvent(t, events.ServerScoreUpdate, events.ScoreUpdatePayload{MatchID: "m1"})
	require.NoError(t, d.Broadcast(context.Background(), "match:m1", evt))

	assert.Empty(t, sender.received("conn-1"))
}

func TestBroadcastForwardsToRelay(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	fwd := &fakeForwarder{}
	d := NewDispatcher(reg, sender, nil)
	d.SetForwarder(fwd)

	evt := mustEvent(t, events.ServerScoreUpdate, events.ScoreUpdatePayload{MatchID: "m1"})
	require.NoError(t, d.Broadcast(context.Background(), "match:m1", evt))

	assert.Equal(t, []string{"match:m1"}, fwd.rooms)
}

func TestBroadcastRelayFailureDoesNotBlockLocalDelivery(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	fwd := &fakeForwarder{err: errors.New("bus unreachable")}
	d := NewDispatcher(reg, sender, nil)
	d.SetForwarder(fwd)

	reg.Join("conn-1", "match:m1")

	evt := mustEvent(t, events.ServerScoreUpdate, events.ScoreUpdatePayload{MatchID: "m1"})
	err := d.Broadcast(context.Background(), "match:m1", evt)

	require.Error(t, err)
	assert.Len(t, sender.received("conn-1"), 1)
}

func TestDeliverLocalDoesNotForward(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	fwd := &fakeForwarder{}
	d := NewDispatcher(reg, sender, nil)
	d.SetForwarder(fwd)

	reg.Join("conn-1", "match:m1")
	evt := mustEvent(t, events.ServerScoreUpdate, events.ScoreUpdatePayload{MatchID: "m1"})

	// The relay's re-emission path must not publish back to the bus.
	n := d.DeliverLocal("match:m1", evt)

	assert.Equal(t, 1, n)
	assert.Empty(t, fwd.rooms)
}

func TestReplyTargetsSingleConnection(t *testing.T) {
	reg := rooms.NewRegistry()
	sender := newFakeSender()
	d := NewDispatcher(reg, sender, nil)

	reg.Join("conn-1", "leaderboard:global")
	reg.Join("conn-2", "leaderboard:global")

	evt := mustEvent(t, events.ServerAck, events.AckPayload{AckID: "req-1", Success: true})
	assert.True(t, d.Reply("conn-1", evt))

	require.Len(t, sender.received("conn-1"), 1)
	assert.Empty(t, sender.received("conn-2"))

	var decoded events.ServerEvent
	require.NoError(t, json.Unmarshal(sender.received("conn-1")[0], &decoded))
	assert.Equal(t, events.ServerAck, decoded.Type)
}
