package gateway_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankstream/rankstream/internal/auth"
	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/gateway"
	"github.com/rankstream/rankstream/internal/leaderboard"
	"github.com/rankstream/rankstream/internal/match"
	"github.com/rankstream/rankstream/internal/rooms"
)

const e2eSecret = "e2e-secret"

type serverFixture struct {
	srv      *httptest.Server
	registry *rooms.Registry
	manager  *gateway.Manager
	notifier *leaderboard.Notifier
	matches  *match.Router
}

func newServerFixture(t *testing.T, validator auth.Validator, authRequired bool) *serverFixture {
	t.Helper()

	registry := rooms.NewRegistry()
	manager := gateway.NewManager(registry, gateway.DefaultConnectionConfig(), validator, authRequired, nil, nil)
	dispatcher := gateway.NewDispatcher(registry, manager, nil)
	differ := leaderboard.NewDiffer(10, nil)
	notifier := leaderboard.NewNotifier(dispatcher, nil)
	matches := match.NewRouter(registry, dispatcher, notifier, nil)
	router := gateway.NewRouter(registry, dispatcher, differ, notifier, nil, matches, nil, nil)
	manager.SetMessageHandler(router)

	mux := http.NewServeMux()
	gateway.NewWSHandler(manager, router).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &serverFixture{
		srv:      srv,
		registry: registry,
		manager:  manager,
		notifier: notifier,
		matches:  matches,
	}
}

func (f *serverFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt events.ServerEvent
	require.NoError(t, json.Unmarshal(raw, &evt))
	return evt
}

func sendClientEvent(t *testing.T, conn *websocket.Conn, typ events.ClientType, ackID string, payload any) {
	t.Helper()
	msg := events.ClientEvent{Type: typ, AckID: ackID}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Data = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func awaitAck(t *testing.T, conn *websocket.Conn, ackID string) events.AckPayload {
	t.Helper()
	for {
		evt := readEvent(t, conn)
		if evt.Type != events.ServerAck {
			continue
		}
		var payload events.AckPayload
		require.NoError(t, json.Unmarshal(evt.Data, &payload))
		if payload.AckID == ackID {
			return payload
		}
	}
}

func signE2EToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(e2eSecret))
	require.NoError(t, err)
	return signed
}

func TestAuthGateRejectionReasons(t *testing.T) {
	f := newServerFixture(t, auth.NewJWTValidator(e2eSecret), true)

	tests := []struct {
		name   string
		query  string
		reason string
	}{
		{name: "missing token", query: "", reason: auth.ReasonTokenRequired},
		{name: "invalid token", query: "?token=garbage", reason: auth.ReasonInvalidToken},
		{name: "expired token", query: "?token=" + signE2EToken(t, "p1", time.Now().Add(-time.Hour)), reason: auth.ReasonTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t, tt.query)

			evt := readEvent(t, conn)
			require.Equal(t, events.ServerConnectionError, evt.Type)

			var payload events.ConnectionErrorPayload
			require.NoError(t, json.Unmarshal(evt.Data, &payload))
			assert.Equal(t, tt.reason, payload.Reason)

			// The socket closes without the session ever being registered.
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			require.Error(t, err)
			assert.Equal(t, 0, f.manager.Stats().Connections)
		})
	}
}

func TestAuthGateAcceptsValidToken(t *testing.T) {
	f := newServerFixture(t, auth.NewJWTValidator(e2eSecret), true)

	conn := f.dial(t, "?token="+signE2EToken(t, "player-123", time.Now().Add(time.Hour)))

	sendClientEvent(t, conn, events.ClientSubscribeChannel, "req-1", events.SubscribeChannelRequest{Channel: "lobby"})
	ack := awaitAck(t, conn, "req-1")
	assert.True(t, ack.Success)
	assert.Equal(t, 1, f.manager.Stats().Connections)
}

func TestRankChangeReachesLeaderboardSubscriberUnchanged(t *testing.T) {
	f := newServerFixture(t, nil, false)
	conn := f.dial(t, "")

	sendClientEvent(t, conn, events.ClientSubscribeLeaderboard, "req-1", events.SubscribeLeaderboardRequest{Scope: "global"})
	require.True(t, awaitAck(t, conn, "req-1").Success)

	f.notifier.PublishRankChanges(context.Background(), "global", []leaderboard.RankChange{
		{PlayerID: "player-123", OldRank: 5, NewRank: 3, RatingChange: 45},
	})

	evt := readEvent(t, conn)
	require.Equal(t, events.ServerRankChange, evt.Type)

	var payload events.RankChangePayload
	require.NoError(t, json.Unmarshal(evt.Data, &payload))
	assert.Equal(t, "player-123", payload.PlayerID)
	assert.Equal(t, 5, payload.OldRank)
	assert.Equal(t, 3, payload.NewRank)
	assert.Equal(t, 45, payload.RatingChange)
	assert.Equal(t, "global", payload.Scope)
}

func TestUnsubscribedMatchRoomStaysSilent(t *testing.T) {
	f := newServerFixture(t, nil, false)
	conn := f.dial(t, "")

	sendClientEvent(t, conn, events.ClientSubscribeMatch, "req-1", events.SubscribeMatchRequest{MatchID: "match-no-updates"})
	require.True(t, awaitAck(t, conn, "req-1").Success)
	sendClientEvent(t, conn, events.ClientUnsubscribeMatch, "req-2", events.SubscribeMatchRequest{MatchID: "match-no-updates"})
	require.True(t, awaitAck(t, conn, "req-2").Success)

	require.NoError(t, f.matches.UpdateScore(context.Background(), events.UpdateScoreRequest{
		MatchID: "match-no-updates", Player1Score: 1,
	}))

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr, "expected read deadline to expire, got %v", err)
	assert.True(t, netErr.Timeout())
}

func TestDisconnectClearsRoomMembership(t *testing.T) {
	f := newServerFixture(t, nil, false)
	conn := f.dial(t, "")

	sendClientEvent(t, conn, events.ClientSubscribeChannel, "req-1", events.SubscribeChannelRequest{Channel: "lobby"})
	require.True(t, awaitAck(t, conn, "req-1").Success)
	require.Len(t, f.registry.MembersOf("pubsub:lobby"), 1)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(f.registry.MembersOf("pubsub:lobby")) == 0 && f.manager.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	f := newServerFixture(t, nil, false)

	resp, err := http.Get(f.srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats gateway.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 0, stats.Connections)
}
