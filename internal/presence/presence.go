package presence

import "sort"

// Tracker keeps the ephemeral set of users currently typing in one
// conversation. Pure set semantics: repeated starts collapse to a single
// membership, a stop removes it. Nothing here is persisted and there is no
// TTL; an indicator stays until an explicit stop arrives or the connection
// is torn down and the set reset.
type Tracker struct {
	typing map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]struct{})}
}

func (t *Tracker) Set(userID string, isTyping bool) {
	if isTyping {
		t.typing[userID] = struct{}{}
		return
	}
	delete(t.typing, userID)
}

func (t *Tracker) IsTyping(userID string) bool {
	_, ok := t.typing[userID]
	return ok
}

// Typing returns the current set, sorted for stable display.
func (t *Tracker) Typing() []string {
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset clears the set. Called when the connection closes; stale indicators
// mean nothing once the stream is gone.
func (t *Tracker) Reset() {
	t.typing = make(map[string]struct{})
}
