package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/studyhive/studyhive-cli/internal/call"
	"github.com/studyhive/studyhive-cli/internal/session"
	"github.com/studyhive/studyhive-cli/internal/ui"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a study room session",
	Long: `Join a study room and open the live session view: real-time chat,
presence, typing indicators, reactions, the shared pomodoro timer, and
the room call.

Examples:
  studyhive join 4f9f1f3a
  studyhive join 4f9f1f3a --domain localhost:8000 --insecure`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, creds, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	stop := ui.RunConnectionSpinner("Joining room...")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ctrl, err := session.Start(ctx, session.Options{
		RoomID: roomID,
		SocketURL: func(token string) string {
			return cfg.RoomSocketURL(roomID, token)
		},
		Tokens:       creds,
		Client:       client,
		Capture:      call.SampleCapture{},
		FallbackSTUN: cfg.FallbackSTUN,
		Logger:       slog.Default(),
	})
	if err != nil {
		return err
	}
	stop()

	started := time.Now()
	model := ui.NewChatModel(ctrl)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, runErr := program.Run()
	wasInCall := ctrl.InCall()
	ctrl.Close()

	store := ctrl.Store()
	if store.Kicked() {
		ui.PrintWarning("You were removed from the room.")
	}

	fmt.Println()
	ui.RenderSessionSummary("Session Summary", ui.SessionSummary{
		RoomName: store.Settings().Name,
		Duration: time.Since(started),
		Messages: len(store.Messages()),
		Peers:    len(store.Presence()),
		InCall:   wasInCall,
	})
	return runErr
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
