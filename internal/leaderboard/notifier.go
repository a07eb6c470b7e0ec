package leaderboard

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/rooms"
)

// Broadcaster delivers an event to every member of a room, locally and
// across instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, evt events.ServerEvent) error
}

// Notifier translates snapshot transitions and match outcomes into the
// discrete rank-change and elo-update events consumed by UI layers. These
// are a separate consumption channel from the bulk leaderboard-update
// stream: both are always delivered.
type Notifier struct {
	broadcaster Broadcaster
	clock       clockwork.Clock
}

func NewNotifier(broadcaster Broadcaster, clock clockwork.Clock) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{broadcaster: broadcaster, clock: clock}
}

// PublishRankChanges emits one rank-change event per movement to the scope's
// leaderboard room, preserving the rank-ascending order the differ produced.
func (n *Notifier) PublishRankChanges(ctx context.Context, scope string, changes []RankChange) {
	room := rooms.LeaderboardRoom(scope)
	now := n.clock.Now()
	for _, c := range changes {
		evt, err := events.NewServerEvent(events.ServerRankChange, now, events.RankChangePayload{
			PlayerID:     c.PlayerID,
			OldRank:      c.OldRank,
			NewRank:      c.NewRank,
			RatingChange: c.RatingChange,
			Scope:        scope,
			Timestamp:    now,
		})
		if err != nil {
			log.Error().Err(err).Str("player_id", c.PlayerID).Msg("failed to build rank-change event")
			continue
		}
		if err := n.broadcaster.Broadcast(ctx, room, evt); err != nil {
			log.Error().Err(err).Str("room", room).Msg("failed to broadcast rank-change")
		}
	}
}

// PublishEloUpdate emits an elo-update to the player's private room. A
// player's own rating update reaches their private subscription even when
// they are not watching the match that caused it.
func (n *Notifier) PublishEloUpdate(ctx context.Context, update events.EloUpdatePayload) {
	evt, err := events.NewServerEvent(events.ServerEloUpdate, n.clock.Now(), update)
	if err != nil {
		log.Error().Err(err).Str("player_id", update.PlayerID).Msg("failed to build elo-update event")
		return
	}
	room := rooms.PlayerRoom(update.PlayerID)
	if err := n.broadcaster.Broadcast(ctx, room, evt); err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to broadcast elo-update")
	}
}
