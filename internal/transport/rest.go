package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"freda-client/internal/models"
)

type RESTConfig struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	RetryMaxElapsed    time.Duration
	BreakerMaxFailures uint32
	BreakerReset       time.Duration
}

// RESTClient talks to the chat backend's HTTP API: bearer auth on every
// call, exponential-backoff retry on transient failures, and a circuit
// breaker in front of the whole thing so a dead backend fails fast instead
// of piling up timeouts.
type RESTClient struct {
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	cfg  RESTConfig
	log  *zap.SugaredLogger
}

func NewRESTClient(cfg RESTConfig, log *zap.SugaredLogger) *RESTClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	st := gobreaker.Settings{
		Name:        "chat-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &RESTClient{
		http: &http.Client{Transport: tr, Timeout: cfg.Timeout},
		cb:   gobreaker.NewCircuitBreaker(st),
		cfg:  cfg,
		log:  log,
	}
}

// History fetches the message snapshot for a conversation.
func (c *RESTClient) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, "/chat/"+conversationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessage is phase one of the two-phase delete: the backing store
// confirms the removal before anything is broadcast.
func (c *RESTClient) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/chat/message/"+messageID, nil, nil)
}

// Conversations lists the current user's conversation summaries.
func (c *RESTClient) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/user/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartDirect creates or resolves the direct conversation with a recipient.
func (c *RESTClient) StartDirect(ctx context.Context, recipientID string) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	body := map[string]string{"recipient_id": recipientID}
	if err := c.do(ctx, http.MethodPost, "/chat/direct/start", body, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// React adds or replaces the caller's reaction and returns the updated
// message. The returned reaction list is authoritative: the caller applies
// it wholesale instead of growing local state.
func (c *RESTClient) React(ctx context.Context, messageID, emoji string) (models.Message, error) {
	var out models.Message
	body := map[string]string{"emoji": emoji}
	if err := c.do(ctx, http.MethodPost, "/message/"+messageID+"/react", body, &out); err != nil {
		return models.Message{}, err
	}
	return out, nil
}

// GetUser fetches a profile for display.
func (c *RESTClient) GetUser(ctx context.Context, userID string) (models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodGet, "/user/"+userID, nil, &out); err != nil {
		return models.User{}, err
	}
	return out, nil
}

// UploadMedia uploads an attachment and returns its url and kind. The body
// is buffered up front so retries can replay it.
func (c *RESTClient) UploadMedia(ctx context.Context, filename string, r io.Reader) (models.Media, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return models.Media{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.Media{}, err
	}
	if err := w.Close(); err != nil {
		return models.Media{}, err
	}

	var out models.Media
	err = c.execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/media/upload", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return c.send(req, &out)
	})
	if err != nil {
		return models.Media{}, err
	}
	return out, nil
}

// do runs a JSON request with retry and the breaker in front.
func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	return c.execute(ctx, func(ctx context.Context) error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.send(req, out)
	})
}

// execute wraps one logical call: retry inside, breaker outside. Client
// errors (4xx) do not trip the breaker; only network failures and 5xx count.
func (c *RESTClient) execute(ctx context.Context, attempt func(context.Context) error) error {
	var reqErr *RequestError
	_, err := c.cb.Execute(func() (any, error) {
		err := c.retry(ctx, attempt)
		var re *RequestError
		if errors.As(err, &re) && re.Status < 500 {
			reqErr = re
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Op: "request", Err: err}
	}
	if err != nil {
		return err
	}
	if reqErr != nil {
		return reqErr
	}
	return nil
}

func (c *RESTClient) retry(ctx context.Context, attempt func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed
	return backoff.Retry(func() error { return attempt(ctx) }, backoff.WithContext(b, ctx))
}

// send fires the request and decodes a JSON response into out. 5xx is
// retryable, other non-2xx is permanent.
func (c *RESTClient) send(req *http.Request, out any) error {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(&RequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
