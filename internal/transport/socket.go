package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"freda-client/internal/metrics"
	"freda-client/internal/models"
)

type SocketConfig struct {
	URL            string // ws:// or wss:// endpoint, query params included
	Token          string
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	Reconnect      bool
	ReconnectMax   time.Duration // cap on re-dial effort per outage
}

// Socket is the stream half of the transport: one websocket connection
// carrying JSON envelopes both ways. Inbound envelopes are decoded on the
// read pump and delivered in arrival order on Events; malformed payloads are
// dropped there and never reach a store. All outbound traffic goes through a
// single write pump so pings and emits never interleave on the wire.
type Socket struct {
	cfg SocketConfig
	log *zap.SugaredLogger
	mts *metrics.Metrics

	mu   sync.Mutex // guards conn across re-dials
	conn *websocket.Conn

	events chan models.Envelope
	out    chan outFrame
	reconn chan struct{}
	done   chan struct{}

	closed  atomic.Bool
	stopped sync.Once
	wg      sync.WaitGroup

	errMu   sync.Mutex
	lastErr error
}

type outFrame struct {
	data []byte
	errc chan error
}

const pongWait = 60 * time.Second

// Dial opens the connection and starts the pumps.
func Dial(cfg SocketConfig, log *zap.SugaredLogger, mts *metrics.Metrics) (*Socket, error) {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteDeadline == 0 {
		cfg.WriteDeadline = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if mts == nil {
		mts = metrics.New()
	}
	s := &Socket{
		cfg:    cfg,
		log:    log,
		mts:    mts,
		events: make(chan models.Envelope, 64),
		out:    make(chan outFrame),
		reconn: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	conn, err := s.dial()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	s.conn = conn
	s.wg.Add(2)
	go s.readPump()
	go s.writePump()
	return s, nil
}

// Events delivers inbound envelopes in arrival order. The channel is closed
// when the connection is gone for good, either by Close or after re-dialing
// gave up.
func (s *Socket) Events() <-chan models.Envelope { return s.events }

// Reconnected signals a successful re-dial. The consumer must re-join its
// rooms and should re-fetch the snapshot to repair deltas missed during the
// outage.
func (s *Socket) Reconnected() <-chan struct{} { return s.reconn }

// Emit sends one envelope and waits for the write result.
func (s *Socket) Emit(env models.Envelope) error {
	if s.closed.Load() {
		return &TransportError{Op: "emit", Err: ErrClosed}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return &TransportError{Op: "emit", Err: err}
	}
	errc := make(chan error, 1)
	select {
	case s.out <- outFrame{data: data, errc: errc}:
	case <-s.done:
		return &TransportError{Op: "emit", Err: ErrClosed}
	}
	select {
	case err := <-errc:
		if err != nil {
			return &TransportError{Op: "emit", Err: err}
		}
		return nil
	case <-s.done:
		return &TransportError{Op: "emit", Err: ErrClosed}
	}
}

// Err reports why the connection died, nil while it is healthy or after a
// deliberate Close.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Close shuts the connection down. Idempotent.
func (s *Socket) Close() error {
	s.stopped.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *Socket) dial() (*websocket.Conn, error) {
	target := s.cfg.URL
	hdr := http.Header{}
	if s.cfg.Token != "" {
		// token rides the upgrade request as both a header and a query
		// param; websocket browser clients can only send the latter
		hdr.Set("Authorization", "Bearer "+s.cfg.Token)
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("token", s.cfg.Token)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target, hdr)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func (s *Socket) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Socket) swap(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Socket) fail(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// readPump owns the inbound side: it decodes envelopes until the connection
// drops, then either re-dials or gives up and closes Events.
func (s *Socket) readPump() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		conn := s.current()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var env models.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.log.Warnw("dropping malformed stream payload", "bytes", len(data), "err", err)
				s.mts.DecodeErrors.Inc()
				continue
			}
			select {
			case s.events <- env:
			case <-s.done:
				return
			}
		}
		if s.closed.Load() {
			return
		}
		if !s.cfg.Reconnect {
			s.fail(&TransportError{Op: "read", Err: ErrClosed})
			return
		}
		conn, err := s.redial()
		if err != nil {
			s.log.Errorw("stream re-dial gave up", "err", err)
			s.fail(&TransportError{Op: "reconnect", Err: err})
			return
		}
		s.swap(conn)
		s.mts.Reconnects.Inc()
		s.log.Infow("stream reconnected", "url", s.cfg.URL)
		select {
		case s.reconn <- struct{}{}:
		default:
		}
	}
}

func (s *Socket) redial() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.ReconnectMax
	var conn *websocket.Conn
	op := func() error {
		if s.closed.Load() {
			return backoff.Permanent(ErrClosed)
		}
		c, err := s.dial()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return conn, nil
}

// writePump owns the outbound side: emits and keepalive pings.
func (s *Socket) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-s.out:
			conn := s.current()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			frame.errc <- conn.WriteMessage(websocket.TextMessage, frame.data)
		case <-ticker.C:
			conn := s.current()
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteDeadline))
		case <-s.done:
			return
		}
	}
}
