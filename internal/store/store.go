package store

import (
	"sort"

	"freda-client/internal/models"
)

// MessageStore holds the live messages of one conversation, keyed and
// deduplicated by message id. It is not safe for concurrent use: the owning
// conversation handle applies the snapshot and all stream events from a
// single goroutine, so no locking is needed here.
type MessageStore struct {
	byID    map[string]*models.Message
	order   []string            // insertion order of live ids
	deleted map[string]struct{} // tombstones; a deleted id never comes back
}

func New() *MessageStore {
	return &MessageStore{
		byID:    make(map[string]*models.Message),
		deleted: make(map[string]struct{}),
	}
}

// ApplySnapshot replaces the contents with the fetched history. Tombstoned
// ids stay gone even when a stale snapshot still carries them: deletion is
// terminal.
func (s *MessageStore) ApplySnapshot(msgs []models.Message) {
	s.byID = make(map[string]*models.Message, len(msgs))
	s.order = s.order[:0]
	for i := range msgs {
		m := msgs[i]
		if _, gone := s.deleted[m.ID]; gone {
			continue
		}
		if _, ok := s.byID[m.ID]; ok {
			// duplicate inside one snapshot, last write wins
			s.byID[m.ID] = &m
			continue
		}
		s.byID[m.ID] = &m
		s.order = append(s.order, m.ID)
	}
}

// ApplyInsert appends a message. An insert for a known id degrades to an
// update so the store never holds two entries with the same id.
func (s *MessageStore) ApplyInsert(m models.Message) {
	if _, gone := s.deleted[m.ID]; gone {
		return
	}
	if _, ok := s.byID[m.ID]; ok {
		s.ApplyUpdate(m)
		return
	}
	s.byID[m.ID] = &m
	s.order = append(s.order, m.ID)
}

// ApplyUpdate replaces the stored message field for field. Unknown ids are a
// silent no-op; a stale update is never fatal.
func (s *MessageStore) ApplyUpdate(m models.Message) {
	if _, ok := s.byID[m.ID]; !ok {
		return
	}
	s.byID[m.ID] = &m
}

// ApplyDelete removes the message and tombstones its id. Idempotent.
func (s *MessageStore) ApplyDelete(id string) {
	s.deleted[id] = struct{}{}
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, mid := range s.order {
		if mid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MessageStore) Get(id string) (models.Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func (s *MessageStore) Len() int { return len(s.byID) }

// Ordered returns the messages sorted chronologically, with the message id
// breaking timestamp ties so the order is stable across calls.
func (s *MessageStore) Ordered() []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
