package devserver

import (
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freda-client/internal/models"
)

type Config struct {
	JWTSecret       string // empty disables signature checks (tests, local dev)
	RateLimitPerSec int
	PingInterval    time.Duration
	WriteDeadline   time.Duration
}

// Server is a self-contained, in-memory stand-in for the Freda chat backend:
// the REST surface plus the websocket event stream, enough to develop the
// client against and to run integration tests without the real thing.
type Server struct {
	app *fiber.App
	hub *Hub
	st  *memStore
	cfg Config
	log *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Server {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteDeadline == 0 {
		cfg.WriteDeadline = 10 * time.Second
	}
	s := &Server{
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
		hub: NewHub(),
		st:  newMemStore(),
		cfg: cfg,
		log: log,
	}
	s.routes()
	return s
}

// SeedUser preloads a profile so GET /api/user/{id} has something to serve.
func (s *Server) SeedUser(u models.User) { s.st.PutUser(u) }

// SeedMessage preloads history for snapshot tests.
func (s *Server) SeedMessage(m models.Message) { s.st.AddMessage(m) }

func (s *Server) Listen(addr string) error    { return s.app.Listen(addr) }
func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }
func (s *Server) Shutdown() error             { return s.app.Shutdown() }

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api", s.authMiddleware)
	api.Get("/chat/user/conversations", s.handleConversations)
	api.Get("/chat/:id", s.handleHistory)
	api.Delete("/chat/message/:id", s.handleDeleteMessage)
	api.Post("/chat/direct/start", s.handleStartDirect)
	api.Post("/message/:id/react", s.handleReact)
	api.Post("/media/upload", s.handleUpload)
	api.Get("/user/:id", s.handleGetUser)

	s.app.Get("/media/:id", s.handleServeMedia)

	s.app.Get("/ws", websocket.New(s.handleWS))
}

// authMiddleware resolves the caller's user id from the bearer token. With
// no secret configured the token's subject is taken at face value, and an
// X-User-ID header works too; local development only.
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	raw := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	uid, err := s.resolveUser(raw, c.Get("X-User-ID"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	c.Locals("uid", uid)
	return c.Next()
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.st.History(c.Params("id")))
}

func (s *Server) handleDeleteMessage(c *fiber.Ctx) error {
	id := c.Params("id")
	if !s.st.DeleteMessage(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}
	return c.JSON(fiber.Map{"deleted": id})
}

func (s *Server) handleConversations(c *fiber.Ctx) error {
	uid, _ := c.Locals("uid").(string)
	return c.JSON(s.st.ConversationsFor(uid))
}

func (s *Server) handleStartDirect(c *fiber.Ctx) error {
	var body struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.RecipientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "recipient_id required"})
	}
	uid, _ := c.Locals("uid").(string)
	id := s.st.EnsureDirect(uid, body.RecipientID)
	return c.JSON(fiber.Map{"conversation_id": id})
}

func (s *Server) handleReact(c *fiber.Ctx) error {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&body); err != nil || body.Emoji == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "emoji required"})
	}
	uid, _ := c.Locals("uid").(string)
	updated, ok := s.st.ReplaceReaction(c.Params("id"), uid, body.Emoji)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}
	payload, _ := json.Marshal(updated)
	s.hub.Broadcast(updated.ConversationID, models.Envelope{
		Event:          models.EventMessageUpdated,
		ConversationID: updated.ConversationID,
		Payload:        payload,
	})
	return c.JSON(updated)
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file required"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer f.Close()
	data := make([]byte, fh.Size)
	if _, err := f.Read(data); err != nil && fh.Size > 0 {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	ct := fh.Header.Get("Content-Type")
	id := uuid.NewString()
	s.st.PutMedia(id, mediaBlob{data: data, contentType: ct})
	return c.JSON(models.Media{URL: "/media/" + id, Kind: mediaKind(ct)})
}

func (s *Server) handleGetUser(c *fiber.Ctx) error {
	u, ok := s.st.GetUser(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}
	return c.JSON(u)
}

func (s *Server) handleServeMedia(c *fiber.Ctx) error {
	blob, ok := s.st.GetMedia(c.Params("id"))
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}
	c.Set("Content-Type", blob.contentType)
	return c.Send(blob.data)
}

func mediaKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "file"
	}
}

// handleWS runs one websocket session: register, pump, route inbound events.
func (s *Server) handleWS(conn *websocket.Conn) {
	raw := conn.Query("token")
	uid, err := s.resolveUser(raw, conn.Query("user_id"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
		_ = conn.Close()
		return
	}

	c := newWSClient(conn, uid, s.cfg.RateLimitPerSec)
	s.hub.Register(c)
	go c.writePump(s.cfg.PingInterval, s.cfg.WriteDeadline)

	defer func() {
		// a vanished peer is no longer typing anywhere
		for room := range c.rooms {
			payload, _ := json.Marshal(models.TypingPayload{UserID: uid, IsTyping: false})
			s.hub.Broadcast(room, models.Envelope{
				Event:          models.EventUserTyping,
				ConversationID: room,
				Payload:        payload,
			})
		}
		s.hub.Unregister(c)
		s.st.SetOnline(uid, false)
		c.close()
	}()

	conn.SetReadLimit(64 * 1024)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warnw("devserver: malformed inbound frame", "uid", uid, "bytes", len(data))
			continue
		}
		s.route(c, uid, env)
	}
}

func (s *Server) route(c *wsClient, uid string, env models.Envelope) {
	switch env.Event {
	case models.EventJoinChat:
		if env.ConversationID != "" {
			s.hub.Join(env.ConversationID, c)
		}

	case models.EventSetOnline:
		s.st.SetOnline(uid, true)

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || env.ConversationID == "" {
			return
		}
		sender, ok := s.st.GetUser(uid)
		if !ok {
			sender = models.User{ID: uid, Name: uid}
		}
		m := models.Message{
			ID:             uuid.NewString(),
			ConversationID: env.ConversationID,
			Sender:         sender,
			Text:           p.Text,
			Kind:           p.Kind,
			Timestamp:      time.Now().UTC(),
		}
		if p.MediaURL != "" {
			m.Media = &models.Media{URL: p.MediaURL, Kind: p.MediaKind}
		}
		s.st.AddMessage(m)
		payload, _ := json.Marshal(m)
		s.hub.Broadcast(env.ConversationID, models.Envelope{
			Event:          models.EventNewMessage,
			ConversationID: env.ConversationID,
			Payload:        payload,
		})

	case models.EventTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || env.ConversationID == "" {
			return
		}
		payload, _ := json.Marshal(models.TypingPayload{UserID: uid, IsTyping: p.IsTyping})
		s.hub.Broadcast(env.ConversationID, models.Envelope{
			Event:          models.EventUserTyping,
			ConversationID: env.ConversationID,
			Payload:        payload,
		})

	case models.EventDeleteMessage:
		var p models.DeletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || env.ConversationID == "" {
			return
		}
		// REST already confirmed; removing here again is idempotent
		s.st.DeleteMessage(p.MessageID)
		payload, _ := json.Marshal(models.DeletePayload{MessageID: p.MessageID})
		s.hub.Broadcast(env.ConversationID, models.Envelope{
			Event:          models.EventMessageDeleted,
			ConversationID: env.ConversationID,
			Payload:        payload,
		})
	}
}
