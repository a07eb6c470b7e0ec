package events

import (
	"encoding/json"
	"time"
)

// Server→client payloads.

// RankChangePayload notifies a single player's rank movement within a scope.
type RankChangePayload struct {
	PlayerID     string    `json:"playerId"`
	OldRank      int       `json:"oldRank"`
	NewRank      int       `json:"newRank"`
	RatingChange int       `json:"ratingChange"`
	Scope        string    `json:"scope"`
	Timestamp    time.Time `json:"timestamp"`
}

// ScoreUpdatePayload carries a live score for a match room.
type ScoreUpdatePayload struct {
	MatchID      string    `json:"matchId"`
	Player1Score int       `json:"player1Score"`
	Player2Score int       `json:"player2Score"`
	Timestamp    time.Time `json:"timestamp"`
}

// MatchStartedPayload announces a match transitioning to in_progress.
type MatchStartedPayload struct {
	MatchID   string    `json:"matchId"`
	Player1ID string    `json:"player1Id"`
	Player2ID string    `json:"player2Id"`
	Timestamp time.Time `json:"timestamp"`
}

// EloChange is the old/new/delta triple for one player after a match.
// Change is always New - Old.
type EloChange struct {
	Old    int `json:"old"`
	New    int `json:"new"`
	Change int `json:"change"`
}

// MatchCompletePayload announces the final outcome of a match. WinnerID is
// nil for a draw, not merely absent.
type MatchCompletePayload struct {
	MatchID    string               `json:"matchId"`
	WinnerID   *string              `json:"winnerId"`
	FinalScore string               `json:"finalScore"`
	EloChanges map[string]EloChange `json:"eloChanges"`
	Timestamp  time.Time            `json:"timestamp"`
}

// EloUpdatePayload is delivered on a player's private room after a match
// adjusts their rating.
type EloUpdatePayload struct {
	PlayerID  string `json:"playerId"`
	OldRating int    `json:"oldRating"`
	NewRating int    `json:"newRating"`
	Change    int    `json:"change"`
	MatchID   string `json:"matchId"`
}

// ChannelMessagePayload is an opaque application message relayed on a
// pubsub channel room.
type ChannelMessagePayload struct {
	Channel   string          `json:"channel"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectionErrorPayload carries a human-readable rejection reason.
type ConnectionErrorPayload struct {
	Reason string `json:"reason"`
}

// AckPayload answers a client request. Error is set only when Success is
// false; Data carries request-specific results (e.g. a leaderboard).
type AckPayload struct {
	AckID   string          `json:"ackId"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client→server payloads.

type SubscribeLeaderboardRequest struct {
	Scope string `json:"scope"`
}

type LeaderboardPageRequest struct {
	Scope string `json:"scope"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type SubscribeMatchRequest struct {
	MatchID string `json:"matchId"`
}

type UpdateScoreRequest struct {
	MatchID      string `json:"matchId"`
	Player1Score int    `json:"player1Score"`
	Player2Score int    `json:"player2Score"`
}

type CompleteMatchRequest struct {
	MatchID    string               `json:"matchId"`
	Player1ID  string               `json:"player1Id"`
	Player2ID  string               `json:"player2Id"`
	WinnerID   *string              `json:"winnerId"`
	FinalScore string               `json:"finalScore"`
	EloChanges map[string]EloChange `json:"eloChanges"`
}

type SubscribePlayerRequest struct {
	PlayerID string `json:"playerId"`
}

type SubscribeChannelRequest struct {
	Channel string `json:"channel"`
}

type PublishMessageRequest struct {
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}
