package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lanchat/internal/models"
)

const clientHelp = "/nick <name>  /upload <path>  /image <path>  /delete <id>  /quit"

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		socketURL, err := buildSocketURL(model.serverURL)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(socketURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		model.setConn(conn)
		return connectedMsg{}
	}
}

// one frame per command so Update stays the only writer of model state
func (model *TUIModel) readOnceCmd() tea.Cmd {
	return func() tea.Msg {
		conn := model.conn()
		if conn == nil {
			return errorMsg(fmt.Errorf("websocket not connected"))
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return errorMsg(err)
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}
			return incomingMsg(env)
		}
	}
}

func (model *TUIModel) emitCmd(event string, payload any) tea.Cmd {
	return func() tea.Msg {
		if err := model.emit(event, payload); err != nil {
			return noticeMsg(fmt.Sprintf("send failed: %v", err))
		}
		return nil
	}
}

func (model *TUIModel) versionCmd() tea.Cmd {
	return func() tea.Msg {
		version, err := model.fetchServerVersion()
		return serverVersionMsg{version: version, err: err}
	}
}

// uploadCmd sends a file through POST /upload and then announces it. File
// uploads report started/progress/failed over the websocket; image pastes
// only post the final image message.
func (model *TUIModel) uploadCmd(path string, asImage bool) tea.Cmd {
	return func() tea.Msg {
		file, err := os.Open(path)
		if err != nil {
			return noticeMsg(fmt.Sprintf("upload: %v", err))
		}
		defer file.Close()
		stat, err := file.Stat()
		if err != nil {
			return noticeMsg(fmt.Sprintf("upload: %v", err))
		}
		if stat.IsDir() {
			return noticeMsg(fmt.Sprintf("upload: %s is a directory", path))
		}
		name := filepath.Base(path)

		var uploadID string
		body := &progressReader{reader: file, total: stat.Size(), report: func(int) {}}
		if !asImage {
			uploadID = uuid.NewString()
			started := map[string]any{"uploadId": uploadID, "fileName": name, "fileSize": stat.Size()}
			if err := model.emit(EventUploadStarted, started); err != nil {
				return noticeMsg(fmt.Sprintf("upload: %v", err))
			}
			body.report = func(percent int) {
				_ = model.emit(EventUploadProgress, map[string]any{"uploadId": uploadID, "percent": percent})
			}
		}

		result, err := model.postFile(uploadID, name, body)
		if err != nil {
			if uploadID != "" {
				_ = model.emit(EventUploadFailed, map[string]any{"uploadId": uploadID, "error": err.Error()})
			}
			return noticeMsg(fmt.Sprintf("upload of %s failed: %v", name, err))
		}

		event := EventFileMessage
		if asImage {
			event = EventImageMessage
		} else {
			result.UploadID = uploadID
		}
		if err := model.emit(event, result); err != nil {
			return noticeMsg(fmt.Sprintf("upload: %v", err))
		}
		return noticeMsg(fmt.Sprintf("uploaded %s (%s)", result.FileName, humanize.IBytes(uint64(result.FileSize))))
	}
}

type clientCommand struct {
	name string
	arg  string
}

// parseCommand splits "/name rest of line". ok is false for plain chat text.
func parseCommand(input string) (clientCommand, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return clientCommand{}, false
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	return clientCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// runCommand applies a slash command and returns the command to execute.
func (model *TUIModel) runCommand(command clientCommand) tea.Cmd {
	switch command.name {
	case "quit", "exit":
		model.closeConn("client quit")
		return tea.Quit
	case "help":
		model.notice(clientHelp)
	case "nick":
		if command.arg == "" {
			model.notice("usage: /nick <name>")
			return nil
		}
		model.nickname = command.arg
		return model.emitCmd(EventSetNickname, command.arg)
	case "upload", "image":
		if command.arg == "" {
			model.notice("usage: /" + command.name + " <path>")
			return nil
		}
		model.notice("uploading " + command.arg)
		return model.uploadCmd(expandHome(command.arg), command.name == "image")
	case "delete":
		id, err := models.ParseMessageID(strings.TrimPrefix(command.arg, "#"))
		if err != nil {
			model.notice("usage: /delete <id>")
			return nil
		}
		return model.emitCmd(EventDeleteMessage, id)
	default:
		model.notice("unknown command /" + command.name + "; try /help")
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// buildSocketURL accepts ws(s):// URLs as given and http(s):// origins, which
// are mapped to the default socket path.
func buildSocketURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = DefaultSocketPath
	}
	return parsed.String(), nil
}
