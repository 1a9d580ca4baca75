package internal

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"lanchat/internal/models"
)

type (
	connectedMsg     struct{}
	incomingMsg      Envelope
	errorMsg         error
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	noticeMsg        string
	serverVersionMsg struct {
		version string
		err     error
	}
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		return model, nil

	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			model.closeConn("client quit")
			return model, tea.Quit
		}
		if typedMessage.Type == tea.KeyEnter {
			value := model.textInput.Value()
			if strings.TrimSpace(value) == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			if command, ok := parseCommand(value); ok {
				return model, model.runCommand(command)
			}
			if !model.isConnected {
				model.notice("not connected; message not sent")
				return model, nil
			}
			return model, model.emitCmd(EventChatMessage, value)
		}
		var command tea.Cmd
		model.textInput, command = model.textInput.Update(typedMessage)
		return model, command

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		cmds := []tea.Cmd{model.readOnceCmd(), model.versionCmd()}
		if model.nickname != "" {
			cmds = append(cmds, model.emitCmd(EventSetNickname, model.nickname))
		}
		return model, tea.Batch(cmds...)

	case incomingMsg:
		model.applyEvent(Envelope(typedMessage))
		return model, model.readOnceCmd()

	case errorMsg:
		model.connectionError = typedMessage
		model.isConnected = false
		model.closeConn("read failed")
		return model, model.scheduleReconnect()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case noticeMsg:
		model.notice(string(typedMessage))
		return model, nil

	case serverVersionMsg:
		if typedMessage.err == nil && CompareVersions(typedMessage.version, Version) != 0 {
			model.notice(fmt.Sprintf("server runs lanchat %s, this client is %s", typedMessage.version, Version))
		}
		return model, nil
	}
	return model, nil
}

// applyEvent folds one server event into the model.
func (model *TUIModel) applyEvent(env Envelope) {
	switch env.Event {
	case EventLoadMessages:
		var history []models.Message
		if err := json.Unmarshal(env.Data, &history); err == nil {
			model.history = history
		}

	case EventChatMessage, EventFileMessage, EventImageMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		model.history = append(model.history, msg)
		if msg.UploadID != "" {
			model.dropUpload(msg.UploadID)
		}

	case EventMessageDeleted:
		var id models.MessageID
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return
		}
		for i := range model.history {
			if model.history[i].ID == id {
				model.history = append(model.history[:i], model.history[i+1:]...)
				break
			}
		}

	case EventOnlineUsers:
		var online []string
		if err := json.Unmarshal(env.Data, &online); err == nil {
			model.online = online
		}

	case EventUploadStarted:
		var started UploadStartedEvent
		if err := json.Unmarshal(env.Data, &started); err != nil || started.UploadID == "" {
			return
		}
		if _, exists := model.uploads[started.UploadID]; !exists {
			model.uploadOrder = append(model.uploadOrder, started.UploadID)
		}
		model.uploads[started.UploadID] = &uploadView{
			ID:       started.UploadID,
			FileName: started.FileName,
			FileSize: started.FileSize,
			Nickname: started.Nickname,
		}

	case EventUploadProgress:
		var progress UploadProgressEvent
		if err := json.Unmarshal(env.Data, &progress); err != nil {
			return
		}
		if view, ok := model.uploads[progress.UploadID]; ok {
			view.Percent = progress.Percent
		}

	case EventUploadFailed:
		var failed UploadFailedEvent
		if err := json.Unmarshal(env.Data, &failed); err != nil {
			return
		}
		if view, ok := model.uploads[failed.UploadID]; ok {
			view.Failed = failed.Error
		}

	case EventUploadCompleted:
		var completed UploadCompletedEvent
		if err := json.Unmarshal(env.Data, &completed); err == nil {
			model.dropUpload(completed.UploadID)
		}

	case EventServerHealth:
		var health HealthEvent
		if err := json.Unmarshal(env.Data, &health); err != nil {
			return
		}
		model.degraded = ""
		if health.Degraded {
			model.degraded = health.Error
			if model.degraded == "" {
				model.degraded = "history is not being saved"
			}
		}
	}
}

func (model *TUIModel) dropUpload(id string) {
	if _, ok := model.uploads[id]; !ok {
		return
	}
	delete(model.uploads, id)
	for i, existing := range model.uploadOrder {
		if existing == id {
			model.uploadOrder = append(model.uploadOrder[:i], model.uploadOrder[i+1:]...)
			break
		}
	}
}
