package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/pders01/pollsync/internal/cache"
)

const statusInterval = 2 * time.Second

func (a *App) loadPolls() tea.Cmd {
	return func() tea.Msg {
		return pollsLoadedMsg{polls: a.deps.Polls.Cached()}
	}
}

func (a *App) refreshPolls() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.deps.Timeout)
		defer cancel()
		n, err := a.deps.Polls.Refresh(ctx)
		return pollsRefreshedMsg{count: n, err: err}
	}
}

func (a *App) processNow() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.deps.Timeout)
		defer cancel()
		return processedMsg{summary: a.deps.ProcessNow(ctx)}
	}
}

func (a *App) pollStatus() tea.Cmd {
	return func() tea.Msg {
		return a.readStatus()
	}
}

func (a *App) scheduleStatus() tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg {
		return a.readStatus()
	})
}

func (a *App) readStatus() statusTickMsg {
	msg := statusTickMsg{pending: -1}
	if a.deps.Pending != nil {
		if n, err := a.deps.Pending(); err == nil {
			msg.pending = n
		}
	}
	if a.deps.Online != nil {
		msg.online = a.deps.Online()
	}
	return msg
}

func (a *App) openPoll(id int64) tea.Cmd {
	renderer, rendererErr := a.getRenderer()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), a.deps.Timeout)
		defer cancel()
		poll, err := a.deps.Polls.Get(ctx, id)
		if err != nil {
			return errorMsg{err: fmt.Errorf("loading poll %d: %w", id, err)}
		}

		md := PollMarkdown(poll, time.Now())
		if rendererErr != nil {
			return pollRenderedMsg{content: md}
		}
		out, err := renderer.Render(md)
		if err != nil {
			return pollRenderedMsg{content: md}
		}
		return pollRenderedMsg{content: out}
	}
}

func (a *App) performSearch(query string) tea.Cmd {
	return func() tea.Msg {
		results, err := a.deps.Searcher.Search(query, 20)
		if err != nil {
			return errorMsg{err: fmt.Errorf("search: %w", err)}
		}
		return searchResultsMsg{query: query, results: results}
	}
}

// PollMarkdown lays a poll out as markdown for the detail view.
func PollMarkdown(poll *cache.CachedPoll, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", poll.Title)
	if poll.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", poll.Description)
	}

	var meta []string
	if poll.Status != "" {
		meta = append(meta, "**status:** "+poll.Status)
	}
	if poll.FetchedAt > 0 {
		meta = append(meta, "**fetched:** "+humanize.RelTime(time.UnixMilli(poll.FetchedAt), now, "ago", "from now"))
	}
	if poll.Stale {
		meta = append(meta, "_stale copy_")
	}
	if len(meta) > 0 {
		b.WriteString(strings.Join(meta, " · "))
		b.WriteString("\n\n")
	}

	for i, q := range poll.Questions {
		title := q.Title
		if title == "" {
			title = fmt.Sprintf("Question %d", q.ID)
		}
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, title)
		for _, opt := range q.Options {
			fmt.Fprintf(&b, "- %s\n", opt.Text)
		}
		if len(q.Options) == 0 {
			b.WriteString("_free text_\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
