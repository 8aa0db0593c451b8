package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyhive/studyhive-cli/internal/api"
	"github.com/studyhive/studyhive-cli/internal/auth"
	"github.com/studyhive/studyhive-cli/internal/config"
	"github.com/studyhive/studyhive-cli/internal/ui"
)

var flagRoomsPage int

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List study rooms",
	Long: `List the study rooms visible to your account.

Examples:
  studyhive rooms
  studyhive rooms --page 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRooms()
	},
}

var membersCmd = &cobra.Command{
	Use:   "members <room-id>",
	Short: "Show a room's member roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listMembers(args[0])
	},
}

// newAPIClient builds the authenticated REST client shared by commands.
func newAPIClient(cfg *config.Config) (*api.Client, *auth.Provider, error) {
	logger := slog.Default()
	creds, err := auth.NewProvider(cfg.TokenPath, cfg.APIBase()+"/auth/token/refresh/", logger)
	if err != nil {
		return nil, nil, fmt.Errorf("not logged in, run 'studyhive login' first: %w", err)
	}
	return api.NewClient(cfg.APIBase(), creds, logger), creds, nil
}

func listRooms() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, _, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	stop := ui.RunSpinner("Fetching rooms...")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	page, err := client.ListRooms(ctx, flagRoomsPage)
	if err != nil {
		return err
	}
	stop()

	fmt.Println()
	ui.NewRoomTable(page.Results).Render()
	if page.Next != nil {
		ui.PrintInfo(fmt.Sprintf("More rooms available, try --page %d", flagRoomsPage+1))
	}
	return nil
}

func listMembers(roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, _, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	stop := ui.RunSpinner("Fetching members...")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	members, err := client.Members(ctx, roomID)
	if err != nil {
		return err
	}
	stop()

	fmt.Println()
	fmt.Println(ui.RosterView(members))
	return nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(membersCmd)

	roomsCmd.Flags().IntVarP(&flagRoomsPage, "page", "p", 1, "Page number")
}
