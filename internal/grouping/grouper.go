package grouping

import (
	"time"

	"freda-client/internal/models"
)

type ItemKind int

const (
	DateMarker ItemKind = iota
	MessageItem
)

// Item is one row of the rendered transcript: either a day heading or a
// message. Date and Label are set for markers only.
type Item struct {
	Kind    ItemKind
	Date    time.Time
	Label   string
	Message models.Message
}

// Group interleaves date markers into a chronologically ordered message
// list: the first message of each calendar day is preceded by exactly one
// marker. It is a pure function of its inputs and is meant to be recomputed
// on every store change; labels are resolved against now, so "Today" only
// turns into a date the next time the view regroups after midnight.
func Group(msgs []models.Message, now time.Time) []Item {
	items := make([]Item, 0, len(msgs)+4)
	var lastDay time.Time
	for _, m := range msgs {
		day := startOfDay(m.Timestamp.In(now.Location()))
		if !day.Equal(lastDay) {
			items = append(items, Item{Kind: DateMarker, Date: day, Label: Label(day, now)})
			lastDay = day
		}
		items = append(items, Item{Kind: MessageItem, Message: m})
	}
	return items
}

// Label renders a day heading: "Today", "Yesterday", or an absolute
// MM/DD/YYYY date for anything older.
func Label(day, now time.Time) string {
	today := startOfDay(now)
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("01/02/2006")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
