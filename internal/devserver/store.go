package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"freda-client/internal/models"
)

// memStore is the devserver's backing store: plain maps behind one mutex.
// The real backend keeps this in a database; for local development and
// integration tests, memory is plenty.
type memStore struct {
	mu     sync.RWMutex
	byID   map[string]*models.Message
	byConv map[string][]string // conversation id -> message ids, insertion order
	convs  map[string]*models.Conversation
	users  map[string]models.User
	media  map[string]mediaBlob
}

type mediaBlob struct {
	data        []byte
	contentType string
}

func newMemStore() *memStore {
	return &memStore{
		byID:   make(map[string]*models.Message),
		byConv: make(map[string][]string),
		convs:  make(map[string]*models.Conversation),
		users:  make(map[string]models.User),
		media:  make(map[string]mediaBlob),
	}
}

func (s *memStore) AddMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		s.byID[m.ID] = &m
		return
	}
	s.byID[m.ID] = &m
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	if c, ok := s.convs[m.ConversationID]; ok {
		c.LastMessage = &m
		c.LastActivity = m.Timestamp
	}
}

func (s *memStore) GetMessage(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func (s *memStore) DeleteMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	ids := s.byConv[m.ConversationID]
	for i, mid := range ids {
		if mid == id {
			s.byConv[m.ConversationID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceReaction swaps the user's previous reaction for the new one and
// returns the updated message.
func (s *memStore) ReplaceReaction(messageID, userID, emoji string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return models.Message{}, false
	}
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.Reactions = append(kept, models.Reaction{Emoji: emoji, UserID: userID})
	return *m, true
}

func (s *memStore) History(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *memStore) ConversationsFor(userID string) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, 4)
	for _, c := range s.convs {
		for _, m := range c.Members {
			if m == userID {
				out = append(out, *c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// EnsureDirect resolves the direct conversation between two users, creating
// it on first use. The id is deterministic so both sides resolve the same
// room.
func (s *memStore) EnsureDirect(a, b string) string {
	lo, hi := a, b
	if strings.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	id := "direct-" + lo + "-" + hi
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		s.convs[id] = &models.Conversation{
			ID:           id,
			Members:      []string{lo, hi},
			LastActivity: time.Now().UTC(),
		}
	}
	return id
}

func (s *memStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *memStore) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = models.User{ID: id, Name: id}
	}
	u.Online = online
	s.users[id] = u
}

func (s *memStore) PutMedia(id string, blob mediaBlob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[id] = blob
}

func (s *memStore) GetMedia(id string) (mediaBlob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.media[id]
	return b, ok
}
