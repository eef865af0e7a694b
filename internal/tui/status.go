package tui

import (
	"fmt"

	"github.com/pders01/pollsync/internal/queue"
)

// Canonical short status messages used across the app.
const (
	MsgRefreshing  = "Refreshing…"
	MsgProcessing  = "Sending pending responses…"
	MsgLoadingPoll = "Loading poll…"
	MsgNoResults   = "No results"
	MsgOffline     = "Offline: showing cached polls"
)

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgRefreshed(n int) string {
	if n == 1 {
		return "Refreshed 1 poll"
	}
	return fmt.Sprintf("Refreshed %d polls", n)
}

// MsgProcessSummary describes a drain and the severity to show it with.
func MsgProcessSummary(s queue.Summary) (string, StatusKind) {
	switch {
	case s.Busy:
		return "Already sending pending responses", StatusInfo
	case s.Failed > 0:
		return fmt.Sprintf("%d sent • %d failed • %d retrying", s.Sent, s.Failed, s.Retried), StatusError
	case s.Retried > 0:
		return fmt.Sprintf("%d sent • %d retrying", s.Sent, s.Retried), StatusWarn
	case s.Sent > 0:
		return fmt.Sprintf("%d sent", s.Sent), StatusSuccess
	default:
		return "Nothing to send", StatusInfo
	}
}
