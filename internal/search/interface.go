package search

import (
	"time"

	"github.com/pders01/pollsync/internal/cache"
)

// Searcher defines the minimal search API used by the CLI, TUI and server.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// Source lists the polls to search. *cache.Manager implements it.
type Source interface {
	GetPolls(maxAge time.Duration) []*cache.CachedPoll
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}

// Result is a matching poll.
type Result struct {
	PollID      int64   `json:"pollId"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
	Matches     []Match `json:"matches,omitempty"`
}

// Match represents where text was found
type Match struct {
	Field  string  `json:"field"` // "title", "description", "questions"
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}
