package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"freda-client/internal/metrics"
	"freda-client/internal/models"
	"freda-client/internal/presence"
	"freda-client/internal/store"
)

// State is the lifecycle of a conversation handle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Stream is the bidirectional event channel for one connection. Implemented
// by transport.Socket; tests drive the loop with a fake.
type Stream interface {
	Emit(models.Envelope) error
	Events() <-chan models.Envelope
	Reconnected() <-chan struct{}
	Close() error
}

// API is the slice of the REST surface the sync engine itself consumes.
type API interface {
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	React(ctx context.Context, messageID, emoji string) (models.Message, error)
}

// Dialer opens the stream for one conversation.
type Dialer func(conversationID string) (Stream, error)

// Client opens conversation views. Current user and transport are explicit
// constructor arguments, so several clients can run side by side and tests
// can wire in fakes.
type Client struct {
	api  API
	dial Dialer
	user models.User
	log  *zap.SugaredLogger
	mts  *metrics.Metrics

	mu     sync.Mutex
	active *Handle
}

func New(api API, dial Dialer, user models.User, log *zap.SugaredLogger, mts *metrics.Metrics) *Client {
	if mts == nil {
		mts = metrics.New()
	}
	return &Client{api: api, dial: dial, user: user, log: log, mts: mts}
}

// Open connects a conversation and starts its apply loop. Opening the
// conversation that is already active returns the existing handle; opening a
// different one closes the previous handle first, so a rapid navigation
// leaves exactly one live view and no stale one that could still mutate.
func (c *Client) Open(ctx context.Context, conversationID string) (*Handle, error) {
	c.mu.Lock()
	if c.active != nil && c.active.conversationID == conversationID && !c.active.IsClosed() {
		h := c.active
		c.mu.Unlock()
		return h, nil
	}
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	h := &Handle{
		conversationID: conversationID,
		user:           c.user,
		api:            c.api,
		Store:          store.New(),
		presence:       presence.NewTracker(),
		log:            c.log.With("conversation", conversationID),
		mts:            c.mts,
		tasks:          make(chan func(), 16),
		done:           make(chan struct{}),
	}
	h.state.Store(int32(StateConnecting))

	stream, err := c.dial(conversationID)
	if err != nil {
		h.state.Store(int32(StateError))
		return nil, err
	}
	h.stream = stream

	if err := h.join(); err != nil {
		_ = stream.Close()
		h.state.Store(int32(StateError))
		return nil, err
	}

	h.wg.Add(1)
	go h.run()
	go func() { _ = h.FetchHistory(ctx) }()

	h.state.Store(int32(StateReady))
	c.mts.ActiveHandles.Inc()

	c.mu.Lock()
	c.active = h
	c.mu.Unlock()
	return h, nil
}

// Handle is one live conversation view: the message store, the typing set,
// and the sequential apply loop feeding them. Every mutation happens on the
// loop goroutine; REST results are routed through the same queue, so a late
// snapshot can never interleave with a stream event. Store may be read
// directly only from an OnChange callback or after Close has returned.
type Handle struct {
	conversationID string
	user           models.User

	Store    *store.MessageStore
	presence *presence.Tracker

	api    API
	stream Stream
	log    *zap.SugaredLogger
	mts    *metrics.Metrics

	state     atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	tasks     chan func()
	wg        sync.WaitGroup

	histErr atomic.Value // error from the last FetchHistory, nil-ed on success
	synced  atomic.Bool  // set once the first snapshot has been applied

	sigMu     sync.Mutex
	typingSig presence.Signal

	changeMu sync.Mutex
	onChange func(msgs []models.Message, typing []string)
}

func (h *Handle) ConversationID() string { return h.conversationID }

func (h *Handle) State() State { return State(h.state.Load()) }

func (h *Handle) IsClosed() bool { return h.closed.Load() }

// OnChange registers a callback invoked on the apply loop after every
// mutation, with a fresh snapshot of the transcript and typing set. The
// display layer regroups the transcript there; it must not call back into
// View from inside the callback.
func (h *Handle) OnChange(fn func(msgs []models.Message, typing []string)) {
	h.changeMu.Lock()
	h.onChange = fn
	h.changeMu.Unlock()
}

// HistoryErr reports whether the last snapshot fetch failed. A failed fetch
// does not tear down the stream; deltas keep applying while the flag is set.
func (h *Handle) HistoryErr() error {
	if v := h.histErr.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}

// Synced reports whether at least one snapshot has been applied. Until then
// the transcript is only whatever deltas have streamed in; a display layer
// typically shows a loading state while this is false.
func (h *Handle) Synced() bool { return h.synced.Load() }

// errBox wraps an error for atomic.Value, which cannot store nil directly.
type errBox struct{ err error }

// View snapshots the current transcript and typing set on the apply loop.
func (h *Handle) View() (msgs []models.Message, typing []string) {
	ready := make(chan struct{})
	if !h.post(func() {
		msgs = h.Store.Ordered()
		typing = h.presence.Typing()
		close(ready)
	}) {
		// loop is gone; wait it out, then nothing mutates anymore
		h.wg.Wait()
		return h.Store.Ordered(), h.presence.Typing()
	}
	<-ready
	return msgs, typing
}

// SendMessage emits the draft on the stream and nothing else. The message is
// deliberately not inserted locally: it becomes visible when the server
// echoes it back as newMessage, through the same path every other
// participant sees.
func (h *Handle) SendMessage(draft models.SendMessagePayload) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	if draft.Kind == "" {
		draft.Kind = models.KindText
	}
	return h.emit(models.EventSendMessage, draft)
}

// SetDraft reports the composer contents. A typing event goes out only on
// the transition between empty and non-empty, never per keystroke.
func (h *Handle) SetDraft(text string) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}
	h.sigMu.Lock()
	isTyping, fire := h.typingSig.Observe(text)
	h.sigMu.Unlock()
	if !fire {
		return nil
	}
	return h.emit(models.EventTyping, models.TypingPayload{UserID: h.user.ID, IsTyping: isTyping})
}

// React posts the reaction over REST and applies the returned message as an
// authoritative update: the stored reaction list is replaced wholesale. The
// broadcastedUpdate from other sessions lands on the same store state.
func (h *Handle) React(ctx context.Context, messageID, emoji string) error {
	updated, err := h.api.React(ctx, messageID, emoji)
	if err != nil {
		return err
	}
	h.post(func() {
		h.Store.ApplyUpdate(updated)
		h.notify()
	})
	return nil
}

// FetchHistory loads the snapshot and applies it on the loop. On failure the
// error flag is set and the stream keeps running untouched. A response that
// resolves after Close is discarded instead of mutating a dead store.
func (h *Handle) FetchHistory(ctx context.Context) error {
	msgs, err := h.api.History(ctx, h.conversationID)
	if err != nil {
		h.histErr.Store(errBox{err})
		h.log.Warnw("history fetch failed", "err", err)
		return err
	}
	h.mts.SnapshotFetches.Inc()
	if !h.post(func() {
		h.histErr.Store(errBox{nil})
		h.Store.ApplySnapshot(msgs)
		h.synced.Store(true)
		h.notify()
	}) {
		return ErrHandleClosed
	}
	return nil
}

// Close tears the handle down: no event or late REST response mutates the
// store once it returns. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		_ = h.stream.Close()
		h.wg.Wait()
		h.presence.Reset()
		h.state.Store(int32(StateClosed))
		h.mts.ActiveHandles.Dec()
	})
	return nil
}

func (h *Handle) join() error {
	if err := h.emit(models.EventJoinChat, nil); err != nil {
		return err
	}
	return h.emit(models.EventSetOnline, models.OnlinePayload{UserID: h.user.ID})
}

func (h *Handle) emit(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return h.stream.Emit(models.Envelope{
		Event:          event,
		ConversationID: h.conversationID,
		Payload:        raw,
	})
}

// post queues work onto the apply loop. Returns false when the handle is
// closed; the work is then dropped, which is exactly the post-close
// guarantee.
func (h *Handle) post(fn func()) bool {
	if h.closed.Load() {
		return false
	}
	select {
	case h.tasks <- fn:
		return true
	case <-h.done:
		return false
	}
}

// run is the single sequential queue of the conversation: stream events,
// reconnect signals and queued REST results, strictly one at a time.
func (h *Handle) run() {
	defer h.wg.Done()
	events := h.stream.Events()
	for {
		select {
		case env, ok := <-events:
			if !ok {
				// stream is gone for good; keep serving reads until Close
				events = nil
				if !h.closed.Load() {
					h.state.Store(int32(StateError))
				}
				continue
			}
			h.apply(env)
		case <-h.stream.Reconnected():
			h.resync()
		case fn := <-h.tasks:
			fn()
		case <-h.done:
			return
		}
	}
}

// apply dispatches one inbound envelope. Events for other rooms on a shared
// connection are filtered out here, before any store is touched.
func (h *Handle) apply(env models.Envelope) {
	if env.ConversationID != "" && env.ConversationID != h.conversationID {
		return
	}
	switch env.Event {
	case models.EventNewMessage:
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			h.dropDecode(env.Event, err)
			return
		}
		h.Store.ApplyInsert(m)
	case models.EventMessageUpdated:
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			h.dropDecode(env.Event, err)
			return
		}
		h.Store.ApplyUpdate(m)
	case models.EventMessageDeleted:
		var p models.DeletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.dropDecode(env.Event, err)
			return
		}
		h.Store.ApplyDelete(p.MessageID)
	case models.EventUserTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.dropDecode(env.Event, err)
			return
		}
		h.presence.Set(p.UserID, p.IsTyping)
	default:
		return
	}
	h.mts.EventsApplied.WithLabelValues(env.Event).Inc()
	h.notify()
}

func (h *Handle) dropDecode(event string, err error) {
	h.log.Warnw("dropping undecodable event payload", "event", event, "err", err)
	h.mts.DecodeErrors.Inc()
}

// resync runs after the transport re-dialed: re-join the room, re-announce
// presence, and re-fetch the snapshot to repair deltas missed during the
// outage.
func (h *Handle) resync() {
	if err := h.join(); err != nil {
		h.log.Warnw("re-join after reconnect failed", "err", err)
	}
	go func() { _ = h.FetchHistory(context.Background()) }()
}

func (h *Handle) notify() {
	h.changeMu.Lock()
	fn := h.onChange
	h.changeMu.Unlock()
	if fn != nil {
		fn(h.Store.Ordered(), h.presence.Typing())
	}
}
