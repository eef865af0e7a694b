// Package notify shows short user-visible notices.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Kind indicates severity for a notice.
type Kind int

const (
	Info Kind = iota
	Success
	Warn
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notifier surfaces a notice to the user.
type Notifier interface {
	Notify(kind Kind, msg string)
}

var (
	infoColor    = lipgloss.Color("#4ECDC4")
	successColor = lipgloss.Color("#10B981")
	warnColor    = lipgloss.Color("#FFE66D")
	errorColor   = lipgloss.Color("#EF4444")

	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	textStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAEAEA")).PaddingLeft(1)
)

func badge(kind Kind) string {
	color, label := infoColor, "•"
	switch kind {
	case Success:
		color, label = successColor, "✓"
	case Warn:
		color, label = warnColor, "!"
	case Error:
		color, label = errorColor, "✗"
	}
	return badgeStyle.Foreground(color).Render(label)
}

// Render formats one notice line.
func Render(kind Kind, msg string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, badge(kind), textStyle.Render(msg))
}

// Printer writes styled notices to a stream, stderr by default.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stderr
	}
	return &Printer{w: w}
}

func (p *Printer) Notify(kind Kind, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, Render(kind, msg))
}

// Func adapts a function to Notifier.
type Func func(kind Kind, msg string)

func (f Func) Notify(kind Kind, msg string) { f(kind, msg) }

// Discard drops every notice.
var Discard Notifier = Func(func(Kind, string) {})
