package devserver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freda-client/internal/client"
	"freda-client/internal/logger"
	"freda-client/internal/metrics"
	"freda-client/internal/models"
	"freda-client/internal/transport"
)

const testSecret = "integration-secret"

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

func signToken(t *testing.T, uid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := New(Config{JWTSecret: testSecret}, logger.Nop())
	srv.SeedUser(models.User{ID: "alice", Name: "Alice"})
	srv.SeedUser(models.User{ID: "bob", Name: "Bob"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return srv, ln.Addr().String()
}

// connect builds a full stack for one user: REST client, websocket dialer,
// conversation client.
func connect(t *testing.T, addr, uid string) (*client.Client, *transport.RESTClient) {
	t.Helper()
	token := signToken(t, uid)
	rest := transport.NewRESTClient(transport.RESTConfig{
		BaseURL:         fmt.Sprintf("http://%s/api", addr),
		Token:           token,
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 2 * time.Second,
	}, logger.Nop())
	mts := metrics.New()
	dial := func(conversationID string) (client.Stream, error) {
		return transport.Dial(transport.SocketConfig{
			URL:          fmt.Sprintf("ws://%s/ws", addr),
			Token:        token,
			Reconnect:    true,
			ReconnectMax: 10 * time.Second,
		}, logger.Nop(), mts)
	}
	user, err := rest.GetUser(context.Background(), uid)
	require.NoError(t, err)
	return client.New(rest, dial, user, logger.Nop(), mts), rest
}

func openDirect(t *testing.T, addr string) (*client.Handle, *client.Handle, *transport.RESTClient, *transport.RESTClient) {
	t.Helper()
	ctx := context.Background()

	aliceClient, aliceREST := connect(t, addr, "alice")
	bobClient, bobREST := connect(t, addr, "bob")

	convID, err := aliceREST.StartDirect(ctx, "bob")
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	// starting from either side resolves to the same conversation
	convID2, err := bobREST.StartDirect(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, convID, convID2)

	ha, err := aliceClient.Open(ctx, convID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ha.Close() })
	hb, err := bobClient.Open(ctx, convID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hb.Close() })

	// wait for the opening snapshots so a racing fetch cannot clobber
	// messages the tests stream in afterwards
	require.Eventually(t, func() bool { return ha.Synced() && hb.Synced() }, waitFor, tick)

	return ha, hb, aliceREST, bobREST
}

func messagesOf(h *client.Handle) []models.Message {
	msgs, _ := h.View()
	return msgs
}

func TestSendEchoesToBothSides(t *testing.T) {
	_, addr := startServer(t)
	ha, hb, _, _ := openDirect(t, addr)

	require.NoError(t, ha.SendMessage(models.SendMessagePayload{Text: "hi bob"}))

	for _, h := range []*client.Handle{ha, hb} {
		require.Eventually(t, func() bool {
			msgs := messagesOf(h)
			return len(msgs) == 1 && msgs[0].Text == "hi bob"
		}, waitFor, tick)
	}
	msgs := messagesOf(ha)
	assert.Equal(t, "alice", msgs[0].Sender.ID)
	assert.Equal(t, "Alice", msgs[0].Sender.Name)
	assert.Equal(t, models.KindText, msgs[0].Kind)
}

func TestHistorySnapshotOnOpen(t *testing.T) {
	srv, addr := startServer(t)
	srv.SeedMessage(models.Message{
		ID:             "seed-1",
		ConversationID: "direct-alice-bob",
		Sender:         models.User{ID: "bob", Name: "Bob"},
		Text:           "from before",
		Kind:           models.KindText,
		Timestamp:      time.Now().Add(-time.Hour).UTC(),
	})

	ha, _, _, _ := openDirect(t, addr)
	require.Eventually(t, func() bool {
		msgs := messagesOf(ha)
		return len(msgs) == 1 && msgs[0].ID == "seed-1"
	}, waitFor, tick)
}

func TestTwoPhaseDeleteConverges(t *testing.T) {
	_, addr := startServer(t)
	ha, hb, aliceREST, _ := openDirect(t, addr)

	require.NoError(t, ha.SendMessage(models.SendMessagePayload{Text: "oops"}))
	require.Eventually(t, func() bool { return len(messagesOf(hb)) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(messagesOf(ha)) == 1 }, waitFor, tick)
	id := messagesOf(ha)[0].ID

	d := client.NewDeleter(aliceREST, logger.Nop())
	require.NoError(t, d.RequestDelete(context.Background(), ha, id))

	for _, h := range []*client.Handle{ha, hb} {
		require.Eventually(t, func() bool { return len(messagesOf(h)) == 0 }, waitFor, tick)
	}
}

func TestDeleteUnknownMessageIs404(t *testing.T) {
	_, addr := startServer(t)
	_, _, aliceREST, _ := openDirect(t, addr)

	err := aliceREST.DeleteMessage(context.Background(), "no-such-id")
	var re *transport.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 404, re.Status)
}

func TestTypingIndicatorPropagates(t *testing.T) {
	_, addr := startServer(t)
	ha, hb, _, _ := openDirect(t, addr)

	require.NoError(t, ha.SetDraft("typing someth"))
	require.Eventually(t, func() bool {
		_, typing := hb.View()
		return len(typing) == 1 && typing[0] == "alice"
	}, waitFor, tick)

	require.NoError(t, ha.SetDraft(""))
	require.Eventually(t, func() bool {
		_, typing := hb.View()
		return len(typing) == 0
	}, waitFor, tick)
}

func TestReactionRoundTrip(t *testing.T) {
	_, addr := startServer(t)
	ha, hb, _, _ := openDirect(t, addr)

	require.NoError(t, hb.SendMessage(models.SendMessagePayload{Text: "rate this"}))
	require.Eventually(t, func() bool { return len(messagesOf(ha)) == 1 }, waitFor, tick)
	id := messagesOf(ha)[0].ID

	require.NoError(t, ha.React(context.Background(), id, "🎉"))

	// the update is broadcast, so the other side converges too
	for _, h := range []*client.Handle{ha, hb} {
		require.Eventually(t, func() bool {
			msgs := messagesOf(h)
			return len(msgs) == 1 && len(msgs[0].Reactions) == 1 && msgs[0].Reactions[0].UserID == "alice"
		}, waitFor, tick)
	}
}

func TestConversationListing(t *testing.T) {
	_, addr := startServer(t)
	ha, _, aliceREST, _ := openDirect(t, addr)

	require.NoError(t, ha.SendMessage(models.SendMessagePayload{Text: "ping"}))
	require.Eventually(t, func() bool { return len(messagesOf(ha)) == 1 }, waitFor, tick)

	convs, err := aliceREST.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, ha.ConversationID(), convs[0].ID)
}

func TestRejectsBadToken(t *testing.T) {
	_, addr := startServer(t)
	rest := transport.NewRESTClient(transport.RESTConfig{
		BaseURL:         fmt.Sprintf("http://%s/api", addr),
		Token:           "garbage",
		Timeout:         time.Second,
		RetryMaxElapsed: time.Second,
	}, logger.Nop())

	_, err := rest.History(context.Background(), "direct-alice-bob")
	var re *transport.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 401, re.Status)
}

func TestReconnectAfterServerRestart(t *testing.T) {
	srv := New(Config{JWTSecret: testSecret}, logger.Nop())
	srv.SeedUser(models.User{ID: "alice", Name: "Alice"})
	srv.SeedUser(models.User{ID: "bob", Name: "Bob"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() { _ = srv.Serve(ln) }()

	ha, hb, _, _ := openDirect(t, addr)

	require.NoError(t, srv.Shutdown())

	// a fresh server on the same address; clients are expected to re-dial,
	// re-join their room and carry on
	srv2 := New(Config{JWTSecret: testSecret}, logger.Nop())
	srv2.SeedUser(models.User{ID: "alice", Name: "Alice"})
	srv2.SeedUser(models.User{ID: "bob", Name: "Bob"})
	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	go func() { _ = srv2.Serve(ln2) }()
	t.Cleanup(func() { _ = srv2.Shutdown() })

	require.Eventually(t, func() bool {
		_ = hb.SendMessage(models.SendMessagePayload{Text: "back online"})
		for _, msg := range messagesOf(ha) {
			if msg.Text == "back online" {
				return true
			}
		}
		return false
	}, 15*time.Second, 250*time.Millisecond)
}

func TestGetUnknownUserIs404(t *testing.T) {
	_, addr := startServer(t)
	_, _, aliceREST, _ := openDirect(t, addr)

	_, err := aliceREST.GetUser(context.Background(), "nobody")
	var re *transport.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 404, re.Status)
}
