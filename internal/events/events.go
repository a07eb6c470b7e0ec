package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotSerializable is returned when an event payload cannot be encoded to
// JSON (self-referential values, channels, funcs). The error text is part of
// the wire contract: it is handed back verbatim in acknowledgements.
var ErrNotSerializable = errors.New("Cannot serialize circular structure")

// ServerType is the closed set of server→client event types.
type ServerType string

const (
	ServerLeaderboardUpdate ServerType = "leaderboard-update"
	ServerRankChange        ServerType = "rank-change"
	ServerScoreUpdate       ServerType = "score-update"
	ServerMatchStarted      ServerType = "match-started"
	ServerMatchComplete     ServerType = "match-complete"
	ServerEloUpdate         ServerType = "elo-update"
	ServerChannelMessage    ServerType = "channel-message"
	ServerConnectionError   ServerType = "connection-error"
	ServerAck               ServerType = "ack"
)

// ClientType is the closed set of client→server event types.
type ClientType string

const (
	ClientSubscribeLeaderboard   ClientType = "subscribe-leaderboard"
	ClientUnsubscribeLeaderboard ClientType = "unsubscribe-leaderboard"
	ClientRequestLeaderboard     ClientType = "request-leaderboard"
	ClientRequestLeaderboardPage ClientType = "request-leaderboard-page"
	ClientSubscribeMatch         ClientType = "subscribe-match"
	ClientUnsubscribeMatch       ClientType = "unsubscribe-match"
	ClientUpdateScore            ClientType = "update-score"
	ClientCompleteMatch          ClientType = "complete-match"
	ClientSubscribePlayerUpdates ClientType = "subscribe-player-updates"
	ClientSubscribeChannel       ClientType = "subscribe-channel"
	ClientPublishMessage         ClientType = "publish-message"
)

// ServerEvent is the envelope for every server→client message.
type ServerEvent struct {
	ID        string          `json:"id"`
	Type      ServerType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ClientEvent is the envelope for every client→server message. AckID, when
// set, asks the server to answer with an ack event carrying the same id.
type ClientEvent struct {
	Type  ClientType      `json:"type"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewServerEvent builds a server event envelope, encoding payload to JSON.
// Any encoding failure is reported as ErrNotSerializable.
func NewServerEvent(typ ServerType, at time.Time, payload any) (ServerEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ServerEvent{}, ErrNotSerializable
	}
	return ServerEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: at,
		Data:      data,
	}, nil
}
