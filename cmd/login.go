package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/studyhive/studyhive-cli/internal/auth"
	"github.com/studyhive/studyhive-cli/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store a token pair",
	Long: `Log in to StudyHive with your account credentials. The issued token
pair is stored locally and refreshed automatically during sessions.

Examples:
  studyhive login alice
  studyhive login alice --domain localhost:8000 --insecure`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin(args[0])
	},
}

func runLogin(username string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("no password entered")
	}

	stop := ui.RunConnectionSpinner("Logging in...")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tokenURL := cfg.APIBase() + "/auth/token/"
	if _, err := auth.Login(ctx, tokenURL, username, password, cfg.TokenPath); err != nil {
		return err
	}
	stop()

	ui.PrintSuccessf("Logged in as %s. Tokens stored at %s", username, cfg.TokenPath)
	return nil
}

// passwordModel is a one-line masked prompt.
type passwordModel struct {
	input    textinput.Model
	done     bool
	canceled bool
}

func promptPassword() (string, error) {
	input := textinput.New()
	input.Placeholder = "password"
	input.Prompt = "Password: "
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '*'
	input.Focus()

	final, err := tea.NewProgram(passwordModel{input: input}).Run()
	if err != nil {
		return "", err
	}
	m := final.(passwordModel)
	if m.canceled {
		return "", errors.New("login canceled")
	}
	fmt.Println()
	return m.input.Value(), nil
}

func (m passwordModel) Init() tea.Cmd { return textinput.Blink }

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.canceled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.done || m.canceled {
		return ""
	}
	return m.input.View()
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
