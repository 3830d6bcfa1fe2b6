package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/orchestrator"
)

// Turner runs turns. *orchestrator.Orchestrator implements it.
type Turner interface {
	Turn(ctx context.Context, sessionID, input string) (*orchestrator.Response, error)
}

type sessionState int

const (
	statePlaying sessionState = iota
	stateLoading
	stateError
)

const startHint = `Type "get started" to begin, or a number to pick a choice.`

type model struct {
	state     sessionState
	turner    Turner
	sessionID string
	last      *orchestrator.Response
	textInput textinput.Model
	viewport  viewport.Model
	err       error
	gameLog   string
	width     int
	height    int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87AFD7"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D7875F")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

// NewModel returns a model playing sessionID. An empty id lets the first
// turn create a session.
func NewModel(t Turner, sessionID string) model {
	ti := textinput.New()
	ti.Placeholder = "What do you do?"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60

	return model{
		state:     statePlaying,
		turner:    t,
		sessionID: sessionID,
		textInput: ti,
		gameLog:   helpStyle.Render(startHint) + "\n",
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

type turnProcessedMsg struct {
	resp *orchestrator.Response
	err  error
}

func (m model) logWidth() int {
	return int(float64(m.width) * 0.75)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.state == stateError {
				// Errors are recoverable; the session was left untouched.
				m.state = statePlaying
				m.err = nil
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if m.state != statePlaying {
				return m, nil
			}
			action := strings.TrimSpace(m.textInput.Value())
			if action == "" {
				return m, nil
			}
			m.textInput.Reset()

			if action == "/quit" {
				return m, tea.Quit
			}
			action = m.resolveChoice(action)

			styledAction := userStyle.Width(m.logWidth()).Render("> " + action)
			m.gameLog += "\n" + styledAction + "\n\n"
			m.viewport.SetContent(m.renderLog())
			m.viewport.GotoBottom()
			m.state = stateLoading
			return m, m.processTurn(action)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.logWidth()
		m.viewport.Height = msg.Height - 6
		m.viewport.SetContent(m.renderLog())

	case turnProcessedMsg:
		m.state = statePlaying
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.last = msg.resp
		m.sessionID = msg.resp.SessionID
		m.gameLog += m.renderResponse(msg.resp)
		m.viewport.SetContent(m.renderLog())
		m.viewport.GotoBottom()
		return m, nil
	}

	if m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

// resolveChoice maps a choice number to its label.
func (m model) resolveChoice(action string) string {
	if m.last == nil {
		return action
	}
	n, err := strconv.Atoi(action)
	if err != nil || n < 1 || n > len(m.last.Choices) {
		return action
	}
	return m.last.Choices[n-1].Label
}

func (m model) View() string {
	var s string

	switch m.state {
	case statePlaying, stateLoading:
		logView := m.viewport.View()
		stateView := m.renderState()

		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			logView,
			stateView,
		)

		input := m.textInput.View()
		if m.state == stateLoading {
			input = helpStyle.Render("The story continues...")
		}
		help := helpStyle.Render("Commands: save, recap, hint, pause, skip, restart, /quit, or a choice number.")

		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			"\n"+input,
			"\n"+help,
		)

	case stateError:
		s = fmt.Sprintf("\n  %s\n\nPress Esc to continue.", describeError(m.err))
	}

	return "\n" + s + "\n"
}

func describeError(err error) string {
	var gerr *gameerr.Error
	if errors.As(err, &gerr) {
		if gerr.Retryable {
			return fmt.Sprintf("Something went wrong (%s): %s. Try again.", gerr.Kind, gerr.Message)
		}
		return fmt.Sprintf("Something went wrong (%s): %s", gerr.Kind, gerr.Message)
	}
	return fmt.Sprintf("Error: %v", err)
}

func (m model) renderResponse(resp *orchestrator.Response) string {
	var b strings.Builder
	b.WriteString(gameStyle.Width(m.logWidth()).Render(resp.Narration))
	b.WriteString("\n")
	for i, c := range resp.Choices {
		marker := " "
		if c.ChoiceID == resp.SafeDefault {
			marker = "*"
		}
		b.WriteString(choiceStyle.Render(fmt.Sprintf("%s %d. %s (%s)", marker, i+1, c.Label, c.Risk)))
		b.WriteString("\n")
	}
	for _, w := range resp.Warnings {
		b.WriteString(warnStyle.Render("! " + w))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderState() string {
	if m.last == nil || m.last.Session == nil {
		return ""
	}
	ps := engine.ToPromptState(m.last.Session)

	var b strings.Builder
	b.WriteString(titleStyle.Render("TRAINER") + "\n")
	if ps.Trainer == "" {
		b.WriteString("(none yet)\n")
	} else {
		fmt.Fprintf(&b, "%s\nBadges: %d\n", ps.Trainer, ps.Badges)
	}
	b.WriteString("\n" + titleStyle.Render("PARTY") + "\n")
	if len(ps.Party) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, p := range ps.Party {
		fmt.Fprintf(&b, "- %s Lv%d %s\n", p.Name, p.Level, p.HP)
	}
	if ps.Location != "" {
		b.WriteString("\n" + titleStyle.Render("LOCATION") + "\n" + ps.Location + "\n")
	}
	if len(ps.Objectives) > 0 {
		b.WriteString("\n" + titleStyle.Render("OBJECTIVES") + "\n")
		for _, o := range ps.Objectives {
			b.WriteString("- " + o + "\n")
		}
	}
	if ps.Battle != nil {
		b.WriteString("\n" + titleStyle.Render("BATTLE") + "\n")
		fmt.Fprintf(&b, "vs %s Lv%d\n%s, round %d\n", ps.Battle.Opponent, ps.Battle.Level, ps.Battle.Difficulty, ps.Battle.Round)
	}
	if m.last.Session.Session.Controls.Paused {
		b.WriteString("\n" + warnStyle.Render("PAUSED") + "\n")
	}

	stateWidth := int(float64(m.width) * 0.23)
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(b.String())
}

func (m model) renderLog() string {
	return m.gameLog
}

func (m model) processTurn(action string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.turner.Turn(context.Background(), m.sessionID, action)
		return turnProcessedMsg{resp, err}
	}
}

// Run plays sessionID until the player quits.
func Run(t Turner, sessionID string) error {
	p := tea.NewProgram(NewModel(t, sessionID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
