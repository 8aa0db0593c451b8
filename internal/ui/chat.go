package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studyhive/studyhive-cli/internal/room"
	"github.com/studyhive/studyhive-cli/internal/session"
)

// sessionUpdateMsg signals that session state changed outside the UI loop.
type sessionUpdateMsg struct{}

// typingStopMsg fires after the composer has been idle long enough to
// broadcast that typing stopped.
type typingStopMsg struct{ seq int }

// tickMsg drives periodic re-renders (typing expiry, pomodoro countdown).
type tickMsg time.Time

// loadOlderDoneMsg reports a completed history page fetch.
type loadOlderDoneMsg struct{ err error }

// statusMsg carries an error line from an async command to the footer.
type statusMsg string

const typingIdleAfter = 4 * time.Second

// ChatModel is the full-screen room session view: a scrollable message log
// with presence, typing, call status, and a slash-command composer.
type ChatModel struct {
	ctrl    *session.Controller
	updates chan struct{}

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	status     string
	typingSeq  int
	lastSeenID string
	quitting   bool
}

// NewChatModel builds the room view and hooks the controller's update
// stream into the Bubble Tea message loop.
func NewChatModel(ctrl *session.Controller) *ChatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	input := textinput.New()
	input.Placeholder = "Message, or /help for commands"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	m := &ChatModel{
		ctrl:    ctrl,
		updates: make(chan struct{}, 16),
		input:   input,
		spinner: s,
	}
	ctrl.OnUpdate(func() {
		select {
		case m.updates <- struct{}{}:
		default:
		}
	})
	return m
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), tickCmd())
}

func (m *ChatModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return sessionUpdateMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			m.ctrl.Close()
			return m, tea.Quit

		case "enter":
			if cmd := m.submit(); cmd != nil {
				cmds = append(cmds, cmd)
			}

		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
			if m.ctrl.ShouldLoadOlder(m.viewport.YOffset) {
				cmds = append(cmds, m.loadOlderCmd())
			}

		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
			if m.input.Value() != "" && !strings.HasPrefix(m.input.Value(), "/") {
				cmds = append(cmds, m.typingCmd())
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := msg.Height - 6
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, logHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = logHeight
		}
		m.refreshLog(true)
		m.input.Width = msg.Width - 4

	case sessionUpdateMsg:
		if m.ctrl.Store().Kicked() {
			m.quitting = true
			return m, tea.Quit
		}
		atBottom := m.viewport.AtBottom()
		m.refreshLog(atBottom)
		if atBottom {
			m.markNewestSeen()
		}
		cmds = append(cmds, m.waitForUpdate())

	case typingStopMsg:
		if msg.seq == m.typingSeq {
			_ = m.ctrl.SetTyping(false)
		}

	case tickMsg:
		m.refreshLog(m.viewport.AtBottom())
		cmds = append(cmds, tickCmd())

	case loadOlderDoneMsg:
		if msg.err != nil {
			m.status = "history fetch failed: " + msg.err.Error()
		}
		m.refreshLog(false)

	case statusMsg:
		m.status = string(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// typingCmd broadcasts typing started and arms the idle timer. Each
// keypress bumps the sequence so only the final timer fires.
func (m *ChatModel) typingCmd() tea.Cmd {
	_ = m.ctrl.SetTyping(true)
	m.typingSeq++
	seq := m.typingSeq
	return tea.Tick(typingIdleAfter, func(time.Time) tea.Msg {
		return typingStopMsg{seq: seq}
	})
}

func (m *ChatModel) loadOlderCmd() tea.Cmd {
	vp := &viewportAdapter{model: m}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return loadOlderDoneMsg{err: m.ctrl.LoadOlder(ctx, vp)}
	}
}

func (m *ChatModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.status = ""
	m.typingSeq++
	_ = m.ctrl.SetTyping(false)

	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}
	if err := m.ctrl.SendChat(text, ""); err != nil {
		m.status = err.Error()
		return nil
	}
	m.refreshLog(true)
	return nil
}

func (m *ChatModel) runCommand(text string) tea.Cmd {
	fields := strings.Fields(text)
	name := fields[0]
	args := fields[1:]

	fail := func(format string, a ...any) tea.Cmd {
		m.status = fmt.Sprintf(format, a...)
		return nil
	}

	switch name {
	case "/help":
		m.status = "/reply /edit /delete /react /unreact /kick /mute /unmute /promote /call /hangup /end /audio /video /share /unshare"

	case "/reply":
		if len(args) < 2 {
			return fail("usage: /reply <message-id> <text>")
		}
		if err := m.ctrl.SendChat(strings.Join(args[1:], " "), args[0]); err != nil {
			return fail("%v", err)
		}

	case "/edit":
		if len(args) < 2 {
			return fail("usage: /edit <message-id> <text>")
		}
		if err := m.ctrl.EditMessage(args[0], strings.Join(args[1:], " ")); err != nil {
			return fail("%v", err)
		}

	case "/delete":
		if len(args) != 1 {
			return fail("usage: /delete <message-id>")
		}
		if err := m.ctrl.DeleteMessage(args[0]); err != nil {
			return fail("%v", err)
		}

	case "/react":
		if len(args) != 2 {
			return fail("usage: /react <message-id> <emoji>")
		}
		if err := m.ctrl.AddReaction(args[0], args[1]); err != nil {
			return fail("%v", err)
		}

	case "/unreact":
		if len(args) != 2 {
			return fail("usage: /unreact <message-id> <emoji>")
		}
		if err := m.ctrl.RemoveReaction(args[0], args[1]); err != nil {
			return fail("%v", err)
		}

	case "/kick":
		if len(args) != 1 {
			return fail("usage: /kick <user-id>")
		}
		if err := m.ctrl.KickUser(args[0]); err != nil {
			return fail("%v", err)
		}

	case "/mute":
		if len(args) != 1 {
			return fail("usage: /mute <user-id>")
		}
		if err := m.ctrl.MuteUser(args[0], true); err != nil {
			return fail("%v", err)
		}

	case "/unmute":
		if len(args) != 1 {
			return fail("usage: /unmute <user-id>")
		}
		if err := m.ctrl.MuteUser(args[0], false); err != nil {
			return fail("%v", err)
		}

	case "/promote":
		if len(args) != 2 {
			return fail("usage: /promote <user-id> <member|moderator|admin>")
		}
		if err := m.ctrl.PromoteUser(args[0], room.Role(args[1])); err != nil {
			return fail("%v", err)
		}

	case "/call":
		callType := "video"
		if len(args) == 1 {
			callType = args[0]
		}
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := m.ctrl.JoinCall(ctx, callType); err != nil {
				return statusMsg(err.Error())
			}
			return sessionUpdateMsg{}
		}

	case "/hangup":
		m.ctrl.LeaveCall()

	case "/end":
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.ctrl.EndCall(ctx); err != nil {
				return statusMsg(err.Error())
			}
			return sessionUpdateMsg{}
		}

	case "/audio":
		if _, err := m.ctrl.ToggleAudio(); err != nil {
			return fail("%v", err)
		}

	case "/video":
		if _, err := m.ctrl.ToggleVideo(); err != nil {
			return fail("%v", err)
		}

	case "/share":
		if err := m.ctrl.StartScreenShare(); err != nil {
			return fail("%v", err)
		}

	case "/unshare":
		if err := m.ctrl.StopScreenShare(); err != nil {
			return fail("%v", err)
		}

	default:
		return fail("unknown command %s", name)
	}
	return nil
}

func (m *ChatModel) markNewestSeen() {
	msgs := m.ctrl.Store().Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Pending || msg.Type != room.MessageChat {
			continue
		}
		if msg.ID != m.lastSeenID && msg.Username != m.ctrl.User().Username {
			m.lastSeenID = msg.ID
			_ = m.ctrl.MarkSeen(msg.ID)
		}
		return
	}
}

func (m *ChatModel) refreshLog(gotoBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderLog())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) renderLog() string {
	msgs := m.ctrl.Store().Messages()
	if len(msgs) == 0 {
		return MutedStyle.Render("No messages yet. Say hello!")
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *ChatModel) renderMessage(msg room.Message) string {
	ts := TimestampStyle.Render(msg.CreatedAt.Local().Format("15:04"))

	switch msg.Type {
	case room.MessageJoin, room.MessageLeave, room.MessageSystem:
		return fmt.Sprintf("%s %s", ts, SystemStyle.Render(msg.Body))
	}

	nameStyle := UsernameStyle
	if msg.Username == m.ctrl.User().Username {
		nameStyle = SelfStyle
	}

	var b strings.Builder
	if msg.RepliedTo != nil {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  ↳ %s: %s", msg.RepliedTo.Username, truncate(msg.RepliedTo.BodySnippet, 40))))
		b.WriteString("\n")
	}

	body := msg.Body
	if msg.Pending {
		body = PendingStyle.Render(body + " …")
	}
	b.WriteString(fmt.Sprintf("%s %s %s", ts, nameStyle.Render(msg.Username+":"), body))

	if msg.Edited {
		b.WriteString(MutedStyle.Render(" (edited)"))
	}
	if msg.File != nil {
		b.WriteString(MutedStyle.Render(fmt.Sprintf(" [file: %s]", msg.File.Name)))
	}
	if len(msg.Reactions) > 0 {
		var parts []string
		for emoji, users := range msg.Reactions {
			parts = append(parts, fmt.Sprintf("%s %d", emoji, len(users)))
		}
		b.WriteString(" " + ReactionStyle.Render(strings.Join(parts, " ")))
	}
	return b.String()
}

func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return fmt.Sprintf("%s Connecting...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	return b.String()
}

func (m *ChatModel) viewHeader() string {
	store := m.ctrl.Store()
	settings := store.Settings()

	title := settings.Name
	if title == "" {
		title = "Study Room"
	}
	head := HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, title))

	var parts []string
	if settings.Topic != "" {
		parts = append(parts, SubtitleStyle.Render(settings.Topic))
	}
	parts = append(parts, m.connectionBadge())

	if active := m.ctrl.ActiveCall(); active != nil {
		label := fmt.Sprintf("%s %s call · %d in", IconCall, active.CallType, active.ParticipantCount)
		if m.ctrl.InCall() {
			label += " · " + m.callControls()
		} else {
			label += " · /call to join"
		}
		parts = append(parts, WarningStyle.Render(label))
	}

	if pomo := m.ctrl.Pomodoro(); pomo.Running {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("%s %s %s", IconTimer, pomo.Mode, formatCountdown(pomo.RemainingSeconds))))
	}

	return head + "  " + strings.Join(parts, "  ")
}

func (m *ChatModel) callControls() string {
	mic := IconMic
	if !m.ctrl.AudioEnabled() {
		mic = IconMicOff
	}
	parts := []string{mic}
	if m.ctrl.VideoEnabled() {
		parts = append(parts, IconVideo)
	}
	if m.ctrl.ScreenSharing() {
		parts = append(parts, IconScreen)
	}
	for _, link := range m.ctrl.Links() {
		parts = append(parts, fmt.Sprintf("%s %s(%s)", IconUser, link.Username, link.State))
	}
	return strings.Join(parts, " ")
}

func (m *ChatModel) connectionBadge() string {
	switch m.ctrl.ConnectionState() {
	case session.StateConnected:
		return SuccessStyle.Render(IconConnect + " live")
	case session.StateReconnecting:
		return WarningStyle.Render(m.spinner.View() + " reconnecting")
	case session.StateFailed:
		return ErrorStyle.Render(IconError + " offline")
	default:
		return MutedStyle.Render(IconWaiting + " connecting")
	}
}

func (m *ChatModel) viewFooter() string {
	store := m.ctrl.Store()

	var parts []string
	parts = append(parts, fmt.Sprintf("%s %d online", IconUsers, len(store.Presence())))

	if typing := store.TypingUsernames(); len(typing) > 0 {
		parts = append(parts, WarningStyle.Render(fmt.Sprintf("%s %s typing", IconTyping, strings.Join(typing, ", "))))
	}
	if unread := store.Unread(); unread > 0 {
		parts = append(parts, fmt.Sprintf("%s %d unread", IconUnread, unread))
	}
	if store.Muted() {
		parts = append(parts, ErrorStyle.Render("muted"))
	}
	if m.status != "" {
		parts = append(parts, ErrorStyle.Render(m.status))
	}

	line := FooterStyle.Render(strings.Join(parts, "  ·  "))
	return line + "\n" + m.input.View()
}

// viewportAdapter exposes the bubbles viewport to the paginator so a
// prepend can preserve the reader's scroll position.
type viewportAdapter struct {
	model *ChatModel
}

func (a *viewportAdapter) ContentHeight() int {
	content := a.model.renderLog()
	a.model.viewport.SetContent(content)
	return lipgloss.Height(content)
}

func (a *viewportAdapter) Offset() int { return a.model.viewport.YOffset }

func (a *viewportAdapter) SetOffset(offset int) { a.model.viewport.SetYOffset(offset) }

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
