package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#34d399") // Mint accent
	Secondary  = lipgloss.Color("#7C3AED") // Violet
	Success    = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	Muted      = lipgloss.Color("#6B7280")
	Foreground = lipgloss.Color("#F9FAFB")

	ProgressStart = "#34d399"
	ProgressEnd   = "#0ea5e9"
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	BadgeStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Secondary).
			Padding(0, 1).
			Bold(true)

	OwnNameStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	PeerNameStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)
)

// Box styles
var (
	InfoBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Secondary).
			Padding(0, 1)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(Error).
			Padding(1, 2)
)

// Layout styles
var (
	ContainerStyle = lipgloss.NewStyle().
			Margin(1, 2)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 2)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

const (
	IconCall    = "📞"
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconChat    = "💬"
	IconVideo   = "🎥"
	IconAudio   = "🎙️"
	IconConnect = "🔌"
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconTime    = "⏱️"
	IconWeb     = "🌐"
	IconLeave   = "👋"
)

// stateBadge colours a call state for the header.
func stateBadge(state string, confirmed bool) string {
	style := BadgeStyle
	switch state {
	case "connected":
		style = style.Background(Warning)
		if confirmed {
			style = style.Background(Success)
		}
	case "failed":
		style = style.Background(Error)
	case "disconnected":
		style = style.Background(Muted)
	}
	return style.Render(state)
}

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}

func FormatError(err error) string {
	return fmt.Sprintf("%s %s", ErrorStyle.Render(IconError), ErrorStyle.Render(err.Error()))
}
