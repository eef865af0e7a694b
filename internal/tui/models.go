package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/search"
)

type View int

const (
	ViewPolls View = iota
	ViewDetail
	ViewSearch
)

type pollItem struct {
	poll *cache.CachedPoll
	now  time.Time
}

func (i pollItem) Title() string {
	if i.poll.Stale {
		return StaleItemStyle.Render("◌ " + i.poll.Title)
	}
	return FreshItemStyle.Render("● " + i.poll.Title)
}

func (i pollItem) Description() string {
	parts := []string{questionCount(len(i.poll.Questions))}
	if i.poll.FetchedAt > 0 {
		fetched := time.UnixMilli(i.poll.FetchedAt)
		parts = append(parts, "fetched "+humanize.RelTime(fetched, i.now, "ago", "from now"))
	}
	if i.poll.Stale {
		parts = append(parts, "stale")
	}
	return lipgloss.NewStyle().
		Foreground(MutedColor).
		Render(strings.Join(parts, " • "))
}

func (i pollItem) FilterValue() string { return i.poll.Title + " " + i.poll.Description }

type searchResultItem struct {
	result *search.Result
}

func (i searchResultItem) Title() string {
	return FreshItemStyle.Render(i.result.Title)
}

func (i searchResultItem) Description() string {
	desc := i.result.Description
	if len(i.result.Matches) > 0 {
		desc = i.result.Matches[0].Field + ": " + i.result.Matches[0].Text
	}
	return lipgloss.NewStyle().
		Foreground(MutedColor).
		Render(truncateEnd(desc, 60))
}

func (i searchResultItem) FilterValue() string { return i.result.Title }

func questionCount(n int) string {
	if n == 1 {
		return "1 question"
	}
	return fmt.Sprintf("%d questions", n)
}

type pollsLoadedMsg struct {
	polls []*cache.CachedPoll
}

type pollsRefreshedMsg struct {
	count int
	err   error
}

type pollRenderedMsg struct {
	content string
}

type processedMsg struct {
	summary queue.Summary
}

type statusTickMsg struct {
	pending int
	online  bool
}

type searchResultsMsg struct {
	query   string
	results []*search.Result
}

type errorMsg struct {
	err error
}
