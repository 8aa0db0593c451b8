package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/studyhive/studyhive-cli/internal/api"
	"github.com/studyhive/studyhive-cli/internal/room"
)

// RoomTable renders the room list using lipgloss/table
type RoomTable struct {
	rooms []api.Room
}

func NewRoomTable(rooms []api.Room) *RoomTable {
	return &RoomTable{rooms: rooms}
}

// View renders the table as a string
func (t *RoomTable) View() string {
	if len(t.rooms) == 0 {
		return MutedStyle.Render("No rooms")
	}

	headers := []string{"ID", "Name", "Topic", "Members", "Owner", ""}

	var rows [][]string
	for _, r := range t.rooms {
		access := ""
		if r.IsPrivate {
			access = IconLock
		}
		rows = append(rows, []string{
			r.ID,
			truncate(r.Name, 30),
			truncate(r.Topic, 25),
			fmt.Sprintf("%d/%d", r.ActiveMembers, r.Capacity),
			r.OwnerUsername,
			access,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// Render outputs the table directly to stdout
func (t *RoomTable) Render() {
	fmt.Println(t.View())
}

// RosterView renders the persisted member roster with roles.
func RosterView(members []api.Member) string {
	if len(members) == 0 {
		return MutedStyle.Render("No members")
	}

	var rows [][]string
	for _, m := range members {
		role := string(m.Role)
		if m.Role == room.RoleModerator || m.Role == room.RoleAdmin {
			role = IconModerator + " " + role
		}
		rows = append(rows, []string{
			truncate(m.Username, 25),
			role,
			m.JoinedAt.Local().Format("2006-01-02"),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Secondary)).
		Headers("Member", "Role", "Joined").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// SessionSummary captures what happened during a room session for the
// post-exit recap.
type SessionSummary struct {
	RoomName string
	Duration time.Duration
	Messages int
	Peers    int
	InCall   bool
}

// RenderSessionSummary prints the post-session recap using a go-pretty
// table.
func RenderSessionSummary(title string, summary SessionSummary) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.AppendRows([]prettytable.Row{
		{"Room", summary.RoomName},
		{"Duration", summary.Duration.Round(time.Second).String()},
		{"Messages", summary.Messages},
		{"Members online", summary.Peers},
	})
	if summary.InCall {
		t.AppendRow(prettytable.Row{"Call", "joined"})
	}
	t.SetStyle(prettytable.StyleRounded)
	t.Render()
}
