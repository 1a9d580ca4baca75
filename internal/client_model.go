package internal

import (
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"lanchat/internal/models"
)

const (
	maxVisibleMessages = 40
	maxNotices         = 4
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	history         []models.Message
	uploads         map[string]*uploadView
	uploadOrder     []string
	online          []string
	notices         []string
	serverURL       string
	nickname        string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	httpClient      *http.Client
	isConnected     bool
	connectionError error
	degraded        string
	width           int
}

// uploadView is another user's (or our own) upload still in flight.
type uploadView struct {
	ID       string
	FileName string
	FileSize int64
	Nickname string
	Percent  int
	Failed   string
}

func NewTUIModel(serverURL, nickname string) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.CharLimit = 0
	input.Focus()
	input.Prompt = "> "

	if nickname == "" {
		nickname = defaultNickname()
	}

	return &TUIModel{
		textInput:  input,
		history:    make([]models.Message, 0, 64),
		uploads:    make(map[string]*uploadView),
		serverURL:  serverURL,
		nickname:   strings.TrimSpace(nickname),
		httpClient: &http.Client{},
	}
}

func defaultNickname() string {
	if user := os.Getenv("LANCHAT_NICKNAME"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.connectCmd())
}

// RunClient is the entry point for the terminal client.
func RunClient(serverURL, nickname string) error {
	program := tea.NewProgram(NewTUIModel(serverURL, nickname), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (model *TUIModel) notice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func (model *TUIModel) conn() *websocket.Conn {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	return model.websocketConn
}

func (model *TUIModel) setConn(conn *websocket.Conn) {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	model.websocketConn = conn
}

func (model *TUIModel) closeConn(reason string) {
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	if model.websocketConn == nil {
		return
	}
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = model.websocketConn.Close()
	model.websocketConn = nil
}
