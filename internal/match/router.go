package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/rooms"
)

// Status is a match's lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// State is the in-memory record of a live match. WinnerID is nil for a
// draw, not merely absent.
type State struct {
	MatchID      string
	Player1ID    string
	Player2ID    string
	Status       Status
	Player1Score int
	Player2Score int
	WinnerID     *string
}

// Broadcaster delivers an event to a room locally and across instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, evt events.ServerEvent) error
}

// EloNotifier routes a rating update to the affected player's private room.
type EloNotifier interface {
	PublishEloUpdate(ctx context.Context, update events.EloUpdatePayload)
}

// Router manages per-match rooms and routes match lifecycle events. A
// single mutex serializes state transitions so rapid successive score
// updates are broadcast in submission order.
type Router struct {
	mu          sync.Mutex
	registry    *rooms.Registry
	broadcaster Broadcaster
	elo         EloNotifier
	clock       clockwork.Clock
	matches     map[string]*State
	subs        map[string]map[string]bool // connection id -> match ids
}

func NewRouter(registry *rooms.Registry, broadcaster Broadcaster, elo EloNotifier, clock clockwork.Clock) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{
		registry:    registry,
		broadcaster: broadcaster,
		elo:         elo,
		clock:       clock,
		matches:     make(map[string]*State),
		subs:        make(map[string]map[string]bool),
	}
}

// Subscribe joins the connection to the match room. Resubscribing after an
// unsubscribe restores delivery.
func (r *Router) Subscribe(connID, matchID string) error {
	if err := rooms.ValidateID(matchID); err != nil {
		return err
	}
	room := rooms.MatchRoom(matchID)
	if err := rooms.ValidateName(room); err != nil {
		return err
	}

	r.mu.Lock()
	if r.subs[connID] == nil {
		r.subs[connID] = make(map[string]bool)
	}
	r.subs[connID][matchID] = true
	r.mu.Unlock()

	r.registry.Join(connID, room)
	return nil
}

// Unsubscribe leaves the match room. Safe to call for a match the
// connection never subscribed to.
func (r *Router) Unsubscribe(connID, matchID string) error {
	if err := rooms.ValidateID(matchID); err != nil {
		return err
	}
	room := rooms.MatchRoom(matchID)

	r.mu.Lock()
	delete(r.subs[connID], matchID)
	if len(r.subs[connID]) == 0 {
		delete(r.subs, connID)
	}
	r.mu.Unlock()

	r.registry.Leave(connID, room)
	return nil
}

// HandleDisconnect drops the connection's subscription bookkeeping. Room
// membership itself is cleared by the connection manager's leave-all.
func (r *Router) HandleDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, connID)
}

// StartMatch moves a match to in_progress with known players and announces
// match-started. Starting a match that is already in progress or completed
// is an error; score updates against a never-started match instead start it
// implicitly.
func (r *Router) StartMatch(ctx context.Context, matchID, player1ID, player2ID string) error {
	if err := rooms.ValidateID(matchID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.matches[matchID]
	if st == nil {
		st = &State{MatchID: matchID, Status: StatusScheduled}
		r.matches[matchID] = st
	}
	if st.Status != StatusScheduled {
		return fmt.Errorf("match %s is already %s", matchID, st.Status)
	}
	st.Player1ID = player1ID
	st.Player2ID = player2ID
	st.Status = StatusInProgress

	now := r.clock.Now()
	evt, err := events.NewServerEvent(events.ServerMatchStarted, now, events.MatchStartedPayload{
		MatchID:   matchID,
		Player1ID: player1ID,
		Player2ID: player2ID,
		Timestamp: now,
	})
	if err != nil {
		return err
	}
	return r.broadcaster.Broadcast(ctx, rooms.MatchRoom(matchID), evt)
}

// UpdateScore broadcasts a score-update to the match room. The first update
// for a match moves it to in_progress and announces match-started before
// the score. Each call is broadcast independently, in submission order.
func (r *Router) UpdateScore(ctx context.Context, req events.UpdateScoreRequest) error {
	if req.MatchID == "" {
		return fmt.Errorf("matchId is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.matches[req.MatchID]
	if st == nil {
		st = &State{MatchID: req.MatchID, Status: StatusScheduled}
		r.matches[req.MatchID] = st
	}
	if st.Status == StatusCompleted {
		return fmt.Errorf("match %s is already completed", req.MatchID)
	}

	room := rooms.MatchRoom(req.MatchID)
	now := r.clock.Now()

	if st.Status != StatusInProgress {
		st.Status = StatusInProgress
		started, err := events.NewServerEvent(events.ServerMatchStarted, now, events.MatchStartedPayload{
			MatchID:   st.MatchID,
			Player1ID: st.Player1ID,
			Player2ID: st.Player2ID,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		if err := r.broadcaster.Broadcast(ctx, room, started); err != nil {
			log.Error().Err(err).Str("match_id", st.MatchID).Msg("failed to relay match-started")
		}
	}

	st.Player1Score = req.Player1Score
	st.Player2Score = req.Player2Score

	evt, err := events.NewServerEvent(events.ServerScoreUpdate, now, events.ScoreUpdatePayload{
		MatchID:      req.MatchID,
		Player1Score: req.Player1Score,
		Player2Score: req.Player2Score,
		Timestamp:    now,
	})
	if err != nil {
		return err
	}
	return r.broadcaster.Broadcast(ctx, room, evt)
}

// CompleteMatch broadcasts match-complete to the match room and routes an
// elo-update to every involved player's private room, whether or not anyone
// is watching the match live.
func (r *Router) CompleteMatch(ctx context.Context, req events.CompleteMatchRequest) error {
	if req.MatchID == "" {
		return fmt.Errorf("matchId is required")
	}
	for playerID, change := range req.EloChanges {
		if change.Change != change.New-change.Old {
			return fmt.Errorf("elo change for %s is inconsistent: %d != %d - %d",
				playerID, change.Change, change.New, change.Old)
		}
	}

	r.mu.Lock()
	st := r.matches[req.MatchID]
	if st == nil {
		st = &State{MatchID: req.MatchID}
		r.matches[req.MatchID] = st
	}
	st.Player1ID = req.Player1ID
	st.Player2ID = req.Player2ID
	st.Status = StatusCompleted
	st.WinnerID = req.WinnerID
	r.mu.Unlock()

	now := r.clock.Now()
	evt, err := events.NewServerEvent(events.ServerMatchComplete, now, events.MatchCompletePayload{
		MatchID:    req.MatchID,
		WinnerID:   req.WinnerID,
		FinalScore: req.FinalScore,
		EloChanges: req.EloChanges,
		Timestamp:  now,
	})
	if err != nil {
		return err
	}
	if err := r.broadcaster.Broadcast(ctx, rooms.MatchRoom(req.MatchID), evt); err != nil {
		log.Error().Err(err).Str("match_id", req.MatchID).Msg("failed to relay match-complete")
	}

	for playerID, change := range req.EloChanges {
		r.elo.PublishEloUpdate(ctx, events.EloUpdatePayload{
			PlayerID:  playerID,
			OldRating: change.Old,
			NewRating: change.New,
			Change:    change.Change,
			MatchID:   req.MatchID,
		})
	}
	return nil
}

// Match returns a copy of the match state, if known.
func (r *Router) Match(matchID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.matches[matchID]
	if !ok {
		return State{}, false
	}
	return *st, true
}
