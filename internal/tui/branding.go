package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

const AppName = "pollsync"

var LogoLines = []string{
	"█▀█ █▀█ █   █   █▀ █▄█ █▄ █ █▀▀",
	"█▀▀ █▄█ █▄▄ █▄▄ ▄█  █  █ ▀█ █▄▄",
}

const CompactLogo = `pollsync ›`

var BannerColors = []lipgloss.Color{
	lipgloss.Color("#FF6B6B"),
	lipgloss.Color("#4ECDC4"),
	lipgloss.Color("#95E1D3"),
}

var (
	PrimaryColor   = lipgloss.Color("#FF6B6B") // coral
	SecondaryColor = lipgloss.Color("#4ECDC4") // teal
	AccentColor    = lipgloss.Color("#95E1D3") // mint

	BackgroundColor = lipgloss.Color("#1A1A2E")
	SurfaceColor    = lipgloss.Color("#16213E")
	TextColor       = lipgloss.Color("#EAEAEA")
	MutedColor      = lipgloss.Color("#94A3B8")

	FreshColor   = lipgloss.Color("#FFE66D")
	StaleColor   = lipgloss.Color("#64748B")
	ErrorColor   = lipgloss.Color("#EF4444")
	SuccessColor = lipgloss.Color("#10B981")
)

var (
	LogoStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Bold(true).
			Padding(0, 2)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	FreshItemStyle = lipgloss.NewStyle().
			Foreground(FreshColor).
			Bold(true)

	StaleItemStyle = lipgloss.NewStyle().
			Foreground(StaleColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	OnlineStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	OfflineStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	StatusInfoStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	StatusSuccessStyle = lipgloss.NewStyle().
				Foreground(SuccessColor)

	StatusWarnStyle = lipgloss.NewStyle().
			Foreground(FreshColor)

	StatusErrorStyle = lipgloss.NewStyle().
				Foreground(ErrorColor).
				Bold(true)
)

func GetWelcomeMessage() string {
	return GetCompactBanner("No polls cached yet. Press r to refresh")
}

func GetCompactBanner(message string) string {
	var coloredLines []string
	for _, line := range LogoLines {
		coloredLines = append(coloredLines, LogoStyle.Render(line))
	}

	logo := lipgloss.JoinVertical(lipgloss.Center, coloredLines...)

	return lipgloss.JoinVertical(
		lipgloss.Center,
		logo,
		"",
		HelpStyle.Render(message),
	)
}

// Banner renders the logo with a version tagline inside a double border.
func Banner(version string) string {
	lines := make([]string, len(LogoLines)+1)
	copy(lines, LogoLines)

	tagline := "    Offline-first poll sync"
	if version != "" && version != "dev" {
		if version[0] != 'v' && version[0] != 'V' {
			version = "v" + version
		}
		tagline = fmt.Sprintf("%s %s", tagline, version)
	}
	lines = append(lines, tagline)

	var coloredLines []string
	for i, line := range lines {
		if line == "" {
			coloredLines = append(coloredLines, line)
			continue
		}
		style := lipgloss.NewStyle().
			Foreground(BannerColors[i%len(BannerColors)]).
			Bold(i < len(LogoLines))
		coloredLines = append(coloredLines, style.Render(line))
	}

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(SecondaryColor).
		Padding(1, 3).
		MarginTop(1)

	return lipgloss.NewStyle().
		Width(70).
		Align(lipgloss.Center).
		Render(borderStyle.Render(lipgloss.JoinVertical(lipgloss.Center, coloredLines...)))
}

func ShowBanner(version string) {
	fmt.Println(Banner(version))
}
