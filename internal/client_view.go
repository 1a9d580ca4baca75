package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"lanchat/internal/models"
)

// pre styled colors, all from lipgloss
var (
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	messageIDStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	linkStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Underline(true)
	uploadStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model *TUIModel) View() string {
	headerSegments := []string{"LanChat"}
	nickname := model.nickname
	if nickname == "" {
		nickname = AnonymousNickname
	}
	headerSegments = append(headerSegments, "You "+nickname)
	headerSegments = append(headerSegments, "Server "+model.serverURL)
	headerSegments = append(headerSegments, fmt.Sprintf("%d online", len(model.online)))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error() + " (retrying)")
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, statusLine}
	if model.degraded != "" {
		sections = append(sections, errorStyle.Render("Server is not saving history: "+model.degraded))
	}

	var messageLines []string
	visible := model.history
	if len(visible) > maxVisibleMessages {
		visible = visible[len(visible)-maxVisibleMessages:]
	}
	for _, msg := range visible {
		messageLines = append(messageLines, model.renderChatMessage(msg))
	}
	for _, id := range model.uploadOrder {
		messageLines = append(messageLines, renderUpload(model.uploads[id]))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...)))

	if len(model.online) > 0 {
		sections = append(sections, menuHintStyle.Render("Online: "+strings.Join(model.online, ", ")))
	}
	if len(model.notices) > 0 {
		var notices []string
		for _, text := range model.notices {
			notices = append(notices, systemMessageStyle.Render(text))
		}
		sections = append(sections, noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...)))
	}
	sections = append(sections,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render(clientHelp+"  •  Esc to quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderChatMessage stamps the time, colors the sender and indents
// multi-line bodies so code blocks stay legible.
func (model *TUIModel) renderChatMessage(msg models.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.Time().Format("15:04:05")))
	id := messageIDStyle.Render("#" + msg.ID.String())

	var nameStyle lipgloss.Style
	if msg.Nickname == model.nickname {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.Nickname))
	}
	name := nameStyle.Render(msg.Nickname)

	var body string
	switch msg.Type {
	case models.TypeFile:
		body = attachmentStyle.Render(fmt.Sprintf("📎 %s (%s)", msg.FileName, humanize.IBytes(uint64(msg.FileSize)))) +
			" " + linkStyle.Render(model.link(msg.DownloadPath))
	case models.TypeImage:
		body = attachmentStyle.Render(fmt.Sprintf("🖼 %s (%s)", msg.FileName, humanize.IBytes(uint64(msg.FileSize)))) +
			" " + linkStyle.Render(model.link(msg.FilePath))
	default:
		body = messageBodyStyle.Render(strings.ReplaceAll(msg.Body, "\n", "\n   "))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, timestamp, " ", id, " ", name, ": ", body)
}

func (model *TUIModel) link(path string) string {
	base, err := httpURL(model.serverURL, "")
	if err != nil {
		return path
	}
	return strings.TrimRight(base, "/") + path
}

func renderUpload(view *uploadView) string {
	if view == nil {
		return ""
	}
	label := fmt.Sprintf("%s is uploading %s (%s)", view.Nickname, view.FileName, humanize.IBytes(uint64(view.FileSize)))
	if view.Failed != "" {
		return errorStyle.Copy().MarginTop(0).Render(fmt.Sprintf("✗ %s: %s", label, view.Failed))
	}
	return uploadStyle.Render(fmt.Sprintf("⇪ %s %s %3d%%", label, progressBar(view.Percent, 20), view.Percent))
}

func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
