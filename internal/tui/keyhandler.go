package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type KeyHandler struct {
	app *App
}

func NewKeyHandler(app *App) *KeyHandler {
	return &KeyHandler{app: app}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return kh.app, tea.Quit
	}

	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(key); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	return kh.app.view == ViewSearch && kh.app.searchInput.Focused()
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return kh.navigateBack()
	case "enter":
		if item, ok := kh.app.searchList.SelectedItem().(searchResultItem); ok {
			return kh.app, kh.openDetail(item.result.PollID)
		}
		return kh.app, nil
	case "tab", "down":
		if len(kh.app.searchList.Items()) > 0 {
			kh.app.searchInput.Blur()
			kh.app.searchList.Select(0)
		}
		return kh.app, nil
	}
	return kh.delegateToTextInput(msg)
}

func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	before := kh.app.searchInput.Value()

	var cmd tea.Cmd
	kh.app.searchInput, cmd = kh.app.searchInput.Update(msg)

	query := strings.TrimSpace(kh.app.searchInput.Value())
	if kh.app.searchInput.Value() == before {
		return kh.app, cmd
	}
	if len(query) < 2 {
		kh.app.searchList.SetItems([]list.Item{})
		return kh.app, cmd
	}
	return kh.app, tea.Batch(cmd, kh.app.performSearch(query))
}

func (kh *KeyHandler) handleCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch kh.app.view {
	case ViewPolls:
		return kh.handlePollsCustomKeys(key)
	case ViewDetail:
		return kh.handleDetailCustomKeys(key)
	case ViewSearch:
		return kh.handleSearchResultKeys(key)
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) handlePollsCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch key {
	case "q":
		return kh.app, tea.Quit, true
	case "r":
		return kh.app, kh.startRefresh(), true
	case "p":
		return kh.app, kh.startProcess(), true
	case "/":
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	case "enter":
		if item, ok := kh.app.pollList.SelectedItem().(pollItem); ok {
			return kh.app, kh.openDetail(item.poll.PollID), true
		}
		return kh.app, nil, true
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) handleDetailCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch key {
	case "esc", "q", "backspace":
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case "p":
		return kh.app, kh.startProcess(), true
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) handleSearchResultKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch key {
	case "esc":
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case "/", "tab":
		kh.app.searchInput.Focus()
		return kh.app, textinput.Blink, true
	case "up":
		if kh.app.searchList.Index() == 0 {
			kh.app.searchInput.Focus()
			return kh.app, textinput.Blink, true
		}
	case "enter":
		if item, ok := kh.app.searchList.SelectedItem().(searchResultItem); ok {
			return kh.app, kh.openDetail(item.result.PollID), true
		}
		return kh.app, nil, true
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch kh.app.view {
	case ViewPolls:
		kh.app.pollList, cmd = kh.app.pollList.Update(msg)
	case ViewDetail:
		kh.app.viewport, cmd = kh.app.viewport.Update(msg)
	case ViewSearch:
		kh.app.searchList, cmd = kh.app.searchList.Update(msg)
	}
	return kh.app, cmd
}

func (kh *KeyHandler) startRefresh() tea.Cmd {
	if kh.app.refreshing {
		return nil
	}
	kh.app.refreshing = true
	kh.app.setStatus(MsgRefreshing, StatusInfo)
	return tea.Batch(kh.app.refreshPolls(), kh.app.spinner.Tick)
}

func (kh *KeyHandler) startProcess() tea.Cmd {
	if kh.app.deps.ProcessNow == nil {
		kh.app.setStatus("Sync session not running", StatusWarn)
		return nil
	}
	if kh.app.processing {
		return nil
	}
	kh.app.processing = true
	kh.app.setStatus(MsgProcessing, StatusInfo)
	return tea.Batch(kh.app.processNow(), kh.app.spinner.Tick)
}

func (kh *KeyHandler) openDetail(id int64) tea.Cmd {
	kh.app.previousView = kh.app.view
	kh.app.view = ViewDetail
	kh.app.currentPoll = id
	kh.app.loadingPoll = true
	kh.app.searchInput.Blur()
	return tea.Batch(kh.app.openPoll(id), kh.app.spinner.Tick)
}

func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewDetail:
		kh.app.view = kh.app.previousView
		kh.app.loadingPoll = false
		if kh.app.view == ViewDetail {
			kh.app.view = ViewPolls
		}
	case ViewSearch:
		kh.app.searchInput.Blur()
		kh.app.view = ViewPolls
	}
	kh.app.previousView = ViewPolls
	kh.app.err = nil
	return kh.app, nil
}

func (kh *KeyHandler) enterSearchMode() (tea.Model, tea.Cmd) {
	if kh.app.deps.Searcher == nil {
		kh.app.setStatus("Search unavailable", StatusWarn)
		return kh.app, nil
	}
	kh.app.previousView = kh.app.view
	kh.app.view = ViewSearch
	kh.app.searchInput.SetValue("")
	kh.app.searchList.SetItems([]list.Item{})
	kh.app.searchInput.Focus()
	kh.app.setStatus("", StatusInfo)
	return kh.app, textinput.Blink
}

// GetHelpForCurrentView returns only our custom help text (Charm handles the rest)
func (kh *KeyHandler) GetHelpForCurrentView() []string {
	switch kh.app.view {
	case ViewPolls:
		help := []string{"r: refresh", "p: process now", "/: search"}
		if len(kh.app.polls) > 0 {
			help = append(help, "enter: open")
		}
		return append(help, "q: quit")
	case ViewDetail:
		return []string{"p: process now", "esc: back"}
	case ViewSearch:
		return []string{"enter: open", "esc: back"}
	default:
		return []string{}
	}
}
