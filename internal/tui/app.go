// Package tui is the terminal monitor for the sync agent: cached polls,
// the pending queue, and on-demand processing.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/search"
)

// Polls is the poll catalog as seen by the UI. *catalog.Catalog implements it.
type Polls interface {
	Cached() []*cache.CachedPoll
	Refresh(ctx context.Context) (int, error)
	Get(ctx context.Context, id int64) (*cache.CachedPoll, error)
}

type Deps struct {
	Polls    Polls
	Searcher search.Searcher
	// ProcessNow drains the pending queue once.
	ProcessNow func(ctx context.Context) queue.Summary
	Pending    func() (int, error)
	Online     func() bool
	// Timeout bounds every network-backed command.
	Timeout time.Duration
}

type App struct {
	deps            Deps
	keyHandler      *KeyHandler
	pollList        list.Model
	searchList      list.Model
	searchInput     textinput.Model
	viewport        viewport.Model
	spinner         spinner.Model
	view            View
	previousView    View
	polls           []*cache.CachedPoll
	currentPoll     int64
	pending         int
	online          bool
	statusKnown     bool
	status          string
	statusKind      StatusKind
	refreshing      bool
	processing      bool
	loadingPoll     bool
	width           int
	height          int
	err             error
	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
	now             func() time.Time
}

func NewApp(deps Deps) *App {
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}

	pollList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	pollList.Title = "› polls"
	pollList.SetShowStatusBar(false)
	// "/" opens full-text search instead of the list filter
	pollList.SetFilteringEnabled(false)
	pollList.SetShowHelp(true)

	searchList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	searchList.Title = "› search results"
	searchList.SetShowStatusBar(false)
	searchList.SetShowHelp(false)
	searchList.SetFilteringEnabled(false)

	si := textinput.New()
	si.Placeholder = "Search polls and questions..."

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	app := &App{
		deps:         deps,
		pollList:     pollList,
		searchList:   searchList,
		searchInput:  si,
		viewport:     viewport.New(0, 0),
		spinner:      sp,
		view:         ViewPolls,
		previousView: ViewPolls,
		pending:      -1,
		now:          time.Now,
	}
	app.keyHandler = NewKeyHandler(app)
	return app
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > 120 {
		wordWrapWidth = 120
	}
	if wordWrapWidth < 40 {
		wordWrapWidth = 40
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}
	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.loadPolls(),
		a.pollStatus(),
		tea.EnterAltScreen,
	)
}

func (a *App) setStatus(text string, kind StatusKind) {
	a.status = text
	a.statusKind = kind
	if kind != StatusError {
		a.err = nil
	}
}

func (a *App) busy() bool {
	return a.refreshing || a.processing
}

func (a *App) applyStatus(msg statusTickMsg) {
	if a.statusKnown && msg.online != a.online {
		if msg.online {
			a.setStatus("Back online", StatusSuccess)
		} else {
			a.setStatus(MsgOffline, StatusWarn)
		}
	}
	a.statusKnown = true
	a.online = msg.online
	a.pending = msg.pending
}

func (a *App) setPolls(polls []*cache.CachedPoll) {
	a.polls = polls
	now := a.now()
	items := make([]list.Item, len(polls))
	for i, p := range polls {
		items[i] = pollItem{poll: p, now: now}
	}
	a.pollList.SetItems(items)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.pollList.SetSize(msg.Width, msg.Height-3)
		searchListHeight := msg.Height - 10
		if searchListHeight < 5 {
			searchListHeight = 5
		}
		a.searchList.SetSize(msg.Width, searchListHeight)
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 3

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case pollsLoadedMsg:
		a.setPolls(msg.polls)

	case pollsRefreshedMsg:
		a.refreshing = false
		if msg.err != nil {
			// the cached list stays on screen
			a.err = fmt.Errorf("refresh: %w", msg.err)
		} else {
			a.setStatus(MsgRefreshed(msg.count), StatusSuccess)
		}
		return a, a.loadPolls()

	case pollRenderedMsg:
		if a.view == ViewDetail {
			a.viewport.SetContent(msg.content)
			a.viewport.GotoTop()
			a.loadingPoll = false
			a.setStatus("", StatusInfo)
		}

	case processedMsg:
		a.processing = false
		text, kind := MsgProcessSummary(msg.summary)
		a.setStatus(text, kind)
		a.applyStatus(a.readStatus())

	case statusTickMsg:
		a.applyStatus(msg)
		return a, a.scheduleStatus()

	case spinner.TickMsg:
		if a.busy() || a.loadingPoll {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil

	case searchResultsMsg:
		if a.view == ViewSearch && msg.query == strings.TrimSpace(a.searchInput.Value()) {
			items := make([]list.Item, len(msg.results))
			for i, r := range msg.results {
				items[i] = searchResultItem{result: r}
			}
			a.searchList.SetItems(items)
			if len(items) == 0 {
				a.setStatus(MsgNoResults, StatusInfo)
			} else {
				a.setStatus(MsgResultsCount(len(items)), StatusInfo)
			}
		}

	case errorMsg:
		a.err = msg.err
		a.loadingPoll = false
	}

	switch a.view {
	case ViewPolls:
		newListModel, cmd := a.pollList.Update(msg)
		a.pollList = newListModel
		cmds = append(cmds, cmd)
	case ViewDetail:
		if _, ok := msg.(tea.MouseMsg); ok {
			newViewport, cmd := a.viewport.Update(msg)
			a.viewport = newViewport
			cmds = append(cmds, cmd)
		}
	case ViewSearch:
		newSearchList, cmd := a.searchList.Update(msg)
		a.searchList = newSearchList
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) View() string {
	var content string
	contentHeight := a.height - 3

	switch a.view {
	case ViewPolls:
		if len(a.polls) == 0 {
			content = renderCentered(a.width, contentHeight, GetWelcomeMessage())
		} else {
			content = a.pollList.View()
		}
	case ViewDetail:
		if a.loadingPoll {
			content = renderCentered(a.width, contentHeight,
				a.spinner.View()+" "+renderMuted(MsgLoadingPoll))
		} else {
			content = a.viewport.View()
		}
	case ViewSearch:
		inputWidth := a.width - 8
		if inputWidth < 10 {
			inputWidth = a.width - 4
		}
		a.searchInput.Width = inputWidth

		helpText := "Type to search • Tab/↓: results • Esc: back"
		if !a.searchInput.Focused() {
			if len(a.searchList.Items()) > 0 {
				helpText = "↑↓: navigate • Enter: open • /: search box • Esc: back"
			} else {
				helpText = "No results found • /: search box • Esc: back"
			}
		}

		content = lipgloss.NewStyle().
			Width(a.width).
			Height(contentHeight).
			MaxHeight(contentHeight).
			Render(lipgloss.JoinVertical(
				lipgloss.Top,
				renderHeader("› search", "", a.width),
				"",
				renderInputFrame(a.searchInput.View(), a.searchInput.Focused(), inputWidth),
				renderMuted(helpText),
				"",
				a.searchList.View(),
			))
	}

	return lipgloss.JoinVertical(lipgloss.Top,
		content,
		renderSeparator(a.width-1),
		a.statusLine(),
		a.helpLine(),
	)
}

func (a *App) statusLine() string {
	var parts []string

	switch {
	case !a.statusKnown:
		parts = append(parts, renderMuted("○ checking"))
	case a.online:
		parts = append(parts, OnlineStyle.Render("● online"))
	default:
		parts = append(parts, OfflineStyle.Render("○ offline"))
	}

	if a.pending >= 0 {
		pending := fmt.Sprintf("%d pending", a.pending)
		if a.pending > 0 {
			parts = append(parts, StatusWarnStyle.Render(pending))
		} else {
			parts = append(parts, renderMuted(pending))
		}
	}

	if a.busy() {
		parts = append(parts, a.spinner.View())
	}

	if a.err != nil {
		parts = append(parts, StatusErrorStyle.Render(fmt.Sprintf("✗ %v", a.err)))
	} else if a.status != "" {
		parts = append(parts, a.statusKind.style().Render(a.status))
	}

	return StatusBarStyle.Width(a.width).Render(strings.Join(parts, " • "))
}

func (a *App) helpLine() string {
	commands := a.keyHandler.GetHelpForCurrentView()
	if len(commands) == 0 {
		return ""
	}
	return StatusBarStyle.Width(a.width).Render(renderHelp(strings.Join(commands, " • ")))
}
