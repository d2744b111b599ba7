package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"freda-client/internal/models"
)

// ErrHandleClosed marks operations attempted on a handle after Close.
var ErrHandleClosed = errors.New("conversation handle closed")

// Deleter coordinates two-phase message removal. Phase one confirms the
// delete against the backing store over REST; only then is phase two, the
// stream broadcast, emitted so every subscribed view converges. The local
// store is never touched directly: this client removes the message when its
// own messageDeleted event comes back, in the same causal position as
// everyone else's.
type Deleter struct {
	api API
	log *zap.SugaredLogger
}

func NewDeleter(api API, log *zap.SugaredLogger) *Deleter {
	return &Deleter{api: api, log: log}
}

// RequestDelete removes a message from the conversation the handle is bound
// to. A phase-one failure leaves every store untouched and surfaces the
// error; there is no partial, local-only deletion.
func (d *Deleter) RequestDelete(ctx context.Context, h *Handle, messageID string) error {
	if h.IsClosed() {
		return ErrHandleClosed
	}
	if err := d.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	if err := h.emit(models.EventDeleteMessage, models.DeletePayload{MessageID: messageID}); err != nil {
		// confirmed server-side but not broadcast from here; other clients
		// still converge via the server's own delete event
		d.log.Warnw("delete broadcast failed", "message", messageID, "err", err)
		return err
	}
	return nil
}
