package presence

// Signal derives the local user's outbound typing events from the composer
// contents. It fires only on the transition between "has no text" and "has
// text", never per keystroke, which bounds the event volume on the stream.
type Signal struct {
	active bool
}

// Observe takes the current draft and reports whether a typing event must go
// out, and with which value.
func (s *Signal) Observe(draft string) (isTyping, fire bool) {
	has := len(draft) > 0
	if has == s.active {
		return false, false
	}
	s.active = has
	return has, true
}
