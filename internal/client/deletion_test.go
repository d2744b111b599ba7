package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freda-client/internal/logger"
	"freda-client/internal/models"
)

func TestRequestDeleteConfirmThenBroadcast(t *testing.T) {
	api := &fakeAPI{}
	c, stream := newTestClient(api)
	h, err := c.Open(context.Background(), "c1")
	require.NoError(t, err)
	defer h.Close()
	waitSynced(t, h)

	stream.events <- envelope(t, models.EventNewMessage, "c1", testMessage("m1", "c1", "doomed", ts0))
	waitForMessages(t, h, 1)

	d := NewDeleter(api, logger.Nop())
	require.NoError(t, d.RequestDelete(context.Background(), h, "m1"))

	api.mu.Lock()
	assert.Equal(t, []string{"m1"}, api.deleted)
	api.mu.Unlock()
	env, ok := stream.lastEmitted(models.EventDeleteMessage)
	require.True(t, ok, "confirmed delete goes out on the stream")
	assert.Equal(t, "c1", env.ConversationID)

	// the message leaves the view only when the server echoes the deletion
	msgs, _ := h.View()
	require.Len(t, msgs, 1)

	stream.events <- envelope(t, models.EventMessageDeleted, "c1", models.DeletePayload{MessageID: "m1"})
	waitForMessages(t, h, 0)
}

func TestRequestDeleteRESTFailureKeepsMessage(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("boom")}
	c, stream := newTestClient(api)
	h, err := c.Open(context.Background(), "c1")
	require.NoError(t, err)
	defer h.Close()
	waitSynced(t, h)

	stream.events <- envelope(t, models.EventNewMessage, "c1", testMessage("m1", "c1", "survivor", ts0))
	waitForMessages(t, h, 1)

	d := NewDeleter(api, logger.Nop())
	err = d.RequestDelete(context.Background(), h, "m1")
	require.Error(t, err)

	_, ok := stream.lastEmitted(models.EventDeleteMessage)
	assert.False(t, ok, "no broadcast without server confirmation")
	time.Sleep(20 * time.Millisecond)
	msgs, _ := h.View()
	assert.Len(t, msgs, 1, "the message stays visible on failure")
}

func TestRequestDeleteOnClosedHandle(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(api)
	h, err := c.Open(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	d := NewDeleter(api, logger.Nop())
	assert.ErrorIs(t, d.RequestDelete(context.Background(), h, "m1"), ErrHandleClosed)
	api.mu.Lock()
	assert.Empty(t, api.deleted, "no REST call after close")
	api.mu.Unlock()
}
