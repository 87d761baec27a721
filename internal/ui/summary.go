package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SummaryView renders the end-of-call table.
func SummaryView(s call.Stats) string {
	status := IconSuccess + " " + s.State.String()
	if s.State == call.StateFailed {
		status = IconError + " " + s.State.String()
	}

	t := table.NewWriter()
	t.SetTitle(IconCall + " Call Summary")
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.Room},
		{"Role", s.Role.String()},
		{"Status", status},
		{"Media flowed", yesNo(s.Confirmed)},
		{"Joined", formatClock(s.JoinedAt)},
		{"Duration", FormatDuration(s.Duration())},
		{"Candidates sent", s.LocalCandidates},
		{"Candidates received", s.RemoteCandidates},
		{"Remote tracks", s.RemoteTracks},
		{"Chat messages", s.ChatLines},
	})
	if s.DiscardedOffers > 0 {
		t.AppendRow(table.Row{"Colliding offers dropped", s.DiscardedOffers})
	}
	if s.Err != nil {
		t.AppendFooter(table.Row{"Error", truncateString(s.Err.Error(), 60)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.Bold}},
		{Number: 2, Align: text.AlignLeft},
	})
	return t.Render()
}

// RenderSummary prints the end-of-call table.
func RenderSummary(s call.Stats) {
	fmt.Println(SummaryView(s))
}

// RoomsView renders a listing of live rooms.
func RoomsView(rooms map[string][]string) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No live rooms")
	}

	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetTitle(IconRoom + " Live Rooms")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Room", "Members", "Client IDs"})
	for i, name := range names {
		members := rooms[name]
		t.AppendRow(table.Row{i + 1, name, fmt.Sprintf("%d/2", len(members)), strings.Join(members, ", ")})
	}
	t.AppendFooter(table.Row{"", "Total", len(names), ""})
	return t.Render()
}

// RoomInfoView is the box shown when a room has been picked for the user.
func RoomInfoView(room, link string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Room ready\n\n%s Room:  %s\n%s Share: %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(room),
		IconWeb, MutedStyle.Render(link),
	)
	return box.Render(content)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
