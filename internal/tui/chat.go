package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/Atom112/AIO-sub000/internal/app"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusTopics
	focusAssistants
)

// storeEventMsg carries one entity-store change into the Update loop.
type storeEventMsg struct{ ev app.StoreEvent }

type subClosedMsg struct{}

// ChatModel is the interactive chat surface. All state it renders comes
// from entity-store snapshots; the model holds no history of its own, so a
// store event only triggers a re-read.
type ChatModel struct {
	session *app.ChatSession

	events <-chan app.StoreEvent
	sub    *app.Subscription

	width  int
	height int
	ready  bool

	focus focusArea

	input  textarea.Model
	chatVP viewport.Model

	assistantSel int
	topicSel     int

	statusText string
	errText    string

	theme Theme
}

func NewChatModel(session *app.ChatSession) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "输入消息，Enter 发送，Tab 切换焦点"
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetHeight(2)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	events, sub := session.Store.Subscribe()
	return &ChatModel{
		session:    session,
		events:     events,
		sub:        sub,
		width:      100,
		height:     30,
		focus:      focusInput,
		input:      ta,
		statusText: "就绪",
		theme:      NewTheme(),
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return m.listenStore()
}

// listenStore waits for the next store event. Re-armed after every message.
func (m *ChatModel) listenStore() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return subClosedMsg{}
		}
		return storeEventMsg{ev: ev}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatVP = viewport.New(m.chatWidth(), m.chatHeight())
		m.ready = true
		m.refreshChat()
		return m, nil

	case storeEventMsg:
		m.refreshChat()
		return m, m.listenStore()

	case subClosedMsg:
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.sub.Close()
			m.session.Close()
			return m, tea.Quit
		case "tab":
			m.focus = (m.focus + 1) % 3
			if m.focus == focusInput {
				m.input.Focus()
			} else {
				m.input.Blur()
			}
			return m, nil
		case "esc":
			aid, tid := m.session.Store.Selection()
			m.session.Cancel(context.Background(), aid, tid)
			m.statusText = "已停止"
			return m, nil
		case "ctrl+n":
			aid, _ := m.session.Store.Selection()
			if tid := m.session.AddTopic(aid); tid != "" {
				m.session.Store.SelectTopic(aid, tid)
			}
			return m, nil
		case "ctrl+a":
			id := m.session.AddAssistant("")
			m.session.Store.SelectAssistant(id)
			return m, nil
		case "ctrl+d":
			m.deleteFocused()
			return m, nil
		case "enter":
			switch m.focus {
			case focusInput:
				return m, m.send()
			case focusTopics:
				m.selectTopic()
				return m, nil
			case focusAssistants:
				m.selectAssistant()
				return m, nil
			}
		case "up", "down":
			if m.focus != focusInput {
				m.moveSelection(msg.String() == "down")
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *ChatModel) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	aid, tid := m.session.Store.Selection()
	if err := m.session.Send(context.Background(), aid, tid, text, nil); err != nil {
		m.errText = err.Error()
		return nil
	}
	m.errText = ""
	m.statusText = "生成中… Esc 停止"
	m.input.Reset()
	return nil
}

func (m *ChatModel) deleteFocused() {
	aid, tid := m.session.Store.Selection()
	var err error
	switch m.focus {
	case focusTopics:
		err = m.session.DeleteTopic(aid, tid)
	case focusAssistants:
		err = m.session.DeleteAssistant(aid)
	default:
		return
	}
	if err != nil {
		m.errText = err.Error()
	} else {
		m.errText = ""
	}
}

func (m *ChatModel) selectAssistant() {
	assistants := m.session.Store.Assistants()
	if m.assistantSel >= 0 && m.assistantSel < len(assistants) {
		m.session.Store.SelectAssistant(assistants[m.assistantSel].ID)
	}
}

func (m *ChatModel) selectTopic() {
	aid, _ := m.session.Store.Selection()
	a, ok := m.session.Store.AssistantSnapshot(aid)
	if !ok {
		return
	}
	if m.topicSel >= 0 && m.topicSel < len(a.Topics) {
		m.session.Store.SelectTopic(aid, a.Topics[m.topicSel].ID)
	}
}

func (m *ChatModel) moveSelection(down bool) {
	delta := -1
	if down {
		delta = 1
	}
	switch m.focus {
	case focusAssistants:
		n := len(m.session.Store.Assistants())
		m.assistantSel = clamp(m.assistantSel+delta, n)
	case focusTopics:
		aid, _ := m.session.Store.Selection()
		if a, ok := m.session.Store.AssistantSnapshot(aid); ok {
			m.topicSel = clamp(m.topicSel+delta, len(a.Topics))
		}
	}
}

func clamp(v, n int) int {
	if n == 0 {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func (m *ChatModel) refreshChat() {
	if !m.ready {
		return
	}
	aid, tid := m.session.Store.Selection()
	topic, ok := m.session.Store.TopicSnapshot(aid, tid)
	if !ok {
		m.chatVP.SetContent("")
		return
	}
	if m.session.Coordinator.State(aid, tid) == app.StateIdle {
		m.statusText = "就绪"
	}

	var b strings.Builder
	for _, msg := range topic.History {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n\n")
	}
	m.chatVP.SetContent(b.String())
	m.chatVP.GotoBottom()
}

func (m *ChatModel) renderMessage(msg app.Message) string {
	label := m.theme.UserLabel.Render("你")
	if msg.Role == app.RoleAssistant {
		name := msg.ModelID
		if name == "" {
			name = "助手"
		}
		label = m.theme.AssistantLabel.Render(name)
	}
	text := msg.Content
	if msg.DisplayText != "" {
		text = msg.DisplayText
		for _, f := range msg.DisplayFiles {
			text += fmt.Sprintf("\n📎 %s", f.Name)
		}
	}
	return label + "\n" + text
}

func (m *ChatModel) chatWidth() int  { return m.width - m.sidebarWidth() - 4 }
func (m *ChatModel) chatHeight() int { return m.height - 7 }
func (m *ChatModel) sidebarWidth() int {
	w := m.width / 4
	if w < 20 {
		w = 20
	}
	return w
}

func (m *ChatModel) View() string {
	if !m.ready {
		return "加载中…"
	}

	sidebar := m.renderSidebar()
	chat := m.theme.ChatPane.Width(m.chatWidth()).Height(m.chatHeight()).Render(m.chatVP.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat)

	status := m.statusText
	if m.errText != "" {
		status = m.theme.Error.Render(m.errText)
	}
	input := m.theme.InputPane.Width(m.width - 2).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, body, input, m.theme.Status.Render(status))
}

func (m *ChatModel) renderSidebar() string {
	aid, tid := m.session.Store.Selection()
	assistants := m.session.Store.Assistants()

	var b strings.Builder
	b.WriteString(m.theme.SidebarTitle.Render("助手"))
	b.WriteString("\n")
	for i, a := range assistants {
		line := a.Name
		if a.ID == aid {
			line = "▸ " + line
		} else {
			line = "  " + line
		}
		if m.focus == focusAssistants && i == m.assistantSel {
			line = m.theme.Selected.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.SidebarTitle.Render("话题"))
	b.WriteString("\n")
	for _, a := range assistants {
		if a.ID != aid {
			continue
		}
		for i, t := range a.Topics {
			line := t.Name
			if t.ID == tid {
				line = "▸ " + line
			} else {
				line = "  " + line
			}
			if m.focus == focusTopics && i == m.topicSel {
				line = m.theme.Selected.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}

	return m.theme.Sidebar.Width(m.sidebarWidth()).Height(m.chatHeight()).Render(b.String())
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(session *app.ChatSession) error {
	p := tea.NewProgram(NewChatModel(session), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
