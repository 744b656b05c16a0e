package domain

import (
	"fmt"
	"time"
)

// RelativeTime renders a conversation-list timestamp ("just now", "5m ago").
func RelativeTime(t time.Time) string {
	return relativeTimeAt(t, time.Now())
}

// BubbleTime renders a message-bubble timestamp: clock time for today,
// "Yesterday 15:04" for yesterday, date plus time otherwise.
func BubbleTime(t time.Time) string {
	return bubbleTimeAt(t, time.Now())
}

func relativeTimeAt(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour && sameDay(t, now):
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "yesterday"
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func bubbleTimeAt(t, now time.Time) string {
	switch {
	case t.IsZero():
		return ""
	case sameDay(t, now):
		return t.Format("15:04")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday " + t.Format("15:04")
	case t.Year() == now.Year():
		return t.Format("Jan 2 15:04")
	default:
		return t.Format("Jan 2, 2006 15:04")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
