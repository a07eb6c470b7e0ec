package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/leaderboard"
	"github.com/rankstream/rankstream/internal/match"
	"github.com/rankstream/rankstream/internal/metrics"
	"github.com/rankstream/rankstream/internal/ranking"
	"github.com/rankstream/rankstream/internal/rooms"
)

// Router decodes client messages and executes them against the registry,
// diff engine, match router and relay. Every client event type is matched
// exhaustively; errors flow back through the request's acknowledgement,
// never by tearing the connection down.
type Router struct {
	registry   *rooms.Registry
	dispatcher *Dispatcher
	differ     *leaderboard.Differ
	notifier   *leaderboard.Notifier
	provider   ranking.SnapshotProvider
	matches    *match.Router
	clock      clockwork.Clock
	metrics    *metrics.Service
}

func NewRouter(
	registry *rooms.Registry,
	dispatcher *Dispatcher,
	differ *leaderboard.Differ,
	notifier *leaderboard.Notifier,
	provider ranking.SnapshotProvider,
	matches *match.Router,
	clock clockwork.Clock,
	m *metrics.Service,
) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{
		registry:   registry,
		dispatcher: dispatcher,
		differ:     differ,
		notifier:   notifier,
		provider:   provider,
		matches:    matches,
		clock:      clock,
		metrics:    m,
	}
}

// HandleMessage implements MessageHandler.
func (rt *Router) HandleMessage(ctx context.Context, conn *Connection, raw []byte) {
	var msg events.ClientEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("discarding undecodable client message")
		return
	}

	switch msg.Type {
	case events.ClientSubscribeLeaderboard:
		rt.handleSubscribeLeaderboard(ctx, conn, msg)
	case events.ClientUnsubscribeLeaderboard:
		rt.handleUnsubscribeLeaderboard(conn, msg)
	case events.ClientRequestLeaderboard:
		rt.handleRequestLeaderboard(ctx, conn, msg)
	case events.ClientRequestLeaderboardPage:
		rt.handleRequestLeaderboardPage(ctx, conn, msg)
	case events.ClientSubscribeMatch:
		rt.handleSubscribeMatch(conn, msg)
	case events.ClientUnsubscribeMatch:
		rt.handleUnsubscribeMatch(conn, msg)
	case events.ClientUpdateScore:
		rt.handleUpdateScore(ctx, conn, msg)
	case events.ClientCompleteMatch:
		rt.handleCompleteMatch(ctx, conn, msg)
	case events.ClientSubscribePlayerUpdates:
		rt.handleSubscribePlayerUpdates(conn, msg)
	case events.ClientSubscribeChannel:
		rt.handleSubscribeChannel(conn, msg)
	case events.ClientPublishMessage:
		rt.handlePublishMessage(ctx, conn, msg)
	default:
		rt.nack(conn, msg.AckID, fmt.Sprintf("unknown event type: %s", msg.Type))
	}
}

func (rt *Router) handleSubscribeLeaderboard(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeLeaderboardRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid subscribe-leaderboard payload")
		return
	}
	if err := rooms.ValidateID(req.Scope); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}

	rt.registry.Join(conn.ID, rooms.LeaderboardRoom(req.Scope))

	// Hand the subscriber the current state so it never renders from an
	// absent baseline.
	if last, ok := rt.differ.Last(req.Scope); ok {
		rt.ack(conn, msg.AckID, leaderboard.Update{
			Type:        leaderboard.UpdateFull,
			Leaderboard: &last,
			Timestamp:   rt.clock.Now(),
		})
		return
	}
	if rt.provider == nil {
		rt.ack(conn, msg.AckID, nil)
		return
	}
	snap, err := rt.provider.Snapshot(ctx, req.Scope)
	if err != nil {
		rt.nack(conn, msg.AckID, fmt.Sprintf("failed to load leaderboard: %v", err))
		return
	}
	res := rt.differ.Apply(snap)
	rt.ack(conn, msg.AckID, res.Update)
}

func (rt *Router) handleUnsubscribeLeaderboard(conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeLeaderboardRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid unsubscribe-leaderboard payload")
		return
	}
	// Unsubscribe is always safe, even for scopes never subscribed to.
	rt.registry.Leave(conn.ID, rooms.LeaderboardRoom(req.Scope))
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleRequestLeaderboard(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeLeaderboardRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid request-leaderboard payload")
		return
	}
	if err := rooms.ValidateID(req.Scope); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	if rt.provider == nil {
		rt.nack(conn, msg.AckID, "no ranking service configured")
		return
	}

	snap, err := rt.provider.Snapshot(ctx, req.Scope)
	if err != nil {
		rt.nack(conn, msg.AckID, fmt.Sprintf("failed to load leaderboard: %v", err))
		return
	}

	// A fresh snapshot is a recompute: subscribers get the resulting diff
	// or full plus any discrete rank changes, while the requester is
	// answered with the complete state.
	if err := rt.IngestSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("scope", req.Scope).Msg("failed to relay leaderboard update")
	}
	rt.ack(conn, msg.AckID, leaderboard.Update{
		Type:        leaderboard.UpdateFull,
		Leaderboard: &snap,
		Timestamp:   rt.clock.Now(),
	})
}

func (rt *Router) handleRequestLeaderboardPage(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.LeaderboardPageRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid request-leaderboard-page payload")
		return
	}
	if err := rooms.ValidateID(req.Scope); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	if req.Page < 1 || req.Limit < 1 {
		rt.nack(conn, msg.AckID, "page and limit must be positive")
		return
	}
	if rt.provider == nil {
		rt.nack(conn, msg.AckID, "no ranking service configured")
		return
	}

	snap, err := rt.provider.SnapshotPage(ctx, req.Scope, req.Page, req.Limit)
	if err != nil {
		rt.nack(conn, msg.AckID, fmt.Sprintf("failed to load leaderboard page: %v", err))
		return
	}
	// Pages are a read-only view; they never feed the diff engine.
	rt.ack(conn, msg.AckID, leaderboard.Update{
		Type:        leaderboard.UpdateFull,
		Leaderboard: &snap,
		Timestamp:   rt.clock.Now(),
	})
}

func (rt *Router) handleSubscribeMatch(conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeMatchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid subscribe-match payload")
		return
	}
	if err := rt.matches.Subscribe(conn.ID, req.MatchID); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleUnsubscribeMatch(conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeMatchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid unsubscribe-match payload")
		return
	}
	if err := rt.matches.Unsubscribe(conn.ID, req.MatchID); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleUpdateScore(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.UpdateScoreRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid update-score payload")
		return
	}
	if err := rt.matches.UpdateScore(ctx, req); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleCompleteMatch(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.CompleteMatchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid complete-match payload")
		return
	}
	if err := rt.matches.CompleteMatch(ctx, req); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleSubscribePlayerUpdates(conn *Connection, msg events.ClientEvent) {
	var req events.SubscribePlayerRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid subscribe-player-updates payload")
		return
	}
	if err := rooms.ValidateID(req.PlayerID); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.registry.Join(conn.ID, rooms.PlayerRoom(req.PlayerID))
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handleSubscribeChannel(conn *Connection, msg events.ClientEvent) {
	var req events.SubscribeChannelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid subscribe-channel payload")
		return
	}
	if err := rooms.ValidateID(req.Channel); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	room := rooms.ChannelRoom(req.Channel)
	if err := rooms.ValidateName(room); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.registry.Join(conn.ID, room)
	rt.ack(conn, msg.AckID, nil)
}

func (rt *Router) handlePublishMessage(ctx context.Context, conn *Connection, msg events.ClientEvent) {
	var req events.PublishMessageRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		rt.nack(conn, msg.AckID, "invalid publish-message payload")
		return
	}
	if err := rooms.ValidateID(req.Channel); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	if !isJSONObject(req.Message) {
		rt.nack(conn, msg.AckID, "message must be an object")
		return
	}

	if err := rt.PublishMessage(ctx, req.Channel, req.Message); err != nil {
		rt.nack(conn, msg.AckID, err.Error())
		return
	}
	rt.ack(conn, msg.AckID, nil)
}

// PublishMessage broadcasts an application message on a pubsub channel,
// locally and across instances. Payload serialization failures and bus
// errors are returned to the caller; neither affects other channels or
// in-flight operations.
func (rt *Router) PublishMessage(ctx context.Context, channel string, message any) error {
	now := rt.clock.Now()
	evt, err := events.NewServerEvent(events.ServerChannelMessage, now, map[string]any{
		"channel":   channel,
		"message":   message,
		"timestamp": now,
	})
	if err != nil {
		return err
	}
	return rt.dispatcher.Broadcast(ctx, rooms.ChannelRoom(channel), evt)
}

// IngestSnapshot runs a new snapshot from the ranking service through the
// diff engine and fans the outcome out: the bulk leaderboard-update to the
// scope's room and one rank-change per movement via the notifier. Both
// channels are always delivered.
func (rt *Router) IngestSnapshot(ctx context.Context, snap leaderboard.Snapshot) error {
	res := rt.differ.Apply(snap)

	if rt.metrics != nil {
		switch res.Update.Type {
		case leaderboard.UpdateFull:
			rt.metrics.FullEmissionsTotal.Inc()
		case leaderboard.UpdateDiff:
			rt.metrics.DiffEmissionsTotal.Inc()
		}
	}

	evt, err := events.NewServerEvent(events.ServerLeaderboardUpdate, rt.clock.Now(), res.Update)
	if err != nil {
		return err
	}
	broadcastErr := rt.dispatcher.Broadcast(ctx, rooms.LeaderboardRoom(snap.Scope), evt)

	rt.notifier.PublishRankChanges(ctx, snap.Scope, res.RankChanges)
	return broadcastErr
}

func (rt *Router) ack(conn *Connection, ackID string, data any) {
	if ackID == "" {
		return
	}
	payload := events.AckPayload{AckID: ackID, Success: true}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			rt.nack(conn, ackID, events.ErrNotSerializable.Error())
			return
		}
		payload.Data = encoded
	}
	rt.sendAck(conn, payload)
}

func (rt *Router) nack(conn *Connection, ackID string, errMsg string) {
	if ackID == "" {
		log.Debug().
			Str("connection_id", conn.ID).
			Str("error", errMsg).
			Msg("request failed without ack id")
		return
	}
	rt.sendAck(conn, events.AckPayload{AckID: ackID, Success: false, Error: errMsg})
}

func (rt *Router) sendAck(conn *Connection, payload events.AckPayload) {
	evt, err := events.NewServerEvent(events.ServerAck, rt.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to build ack")
		return
	}
	rt.dispatcher.Reply(conn.ID, evt)
}

// isJSONObject reports whether raw is a JSON object.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
