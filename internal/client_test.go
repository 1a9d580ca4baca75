package internal

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/models"
)

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Envelope{Event: event, Data: raw}
}

func TestApplyEvent_History(t *testing.T) {
	model := NewTUIModel("ws://localhost:3000/socket", "me")

	model.applyEvent(envelope(t, EventLoadMessages, []models.Message{{ID: 1, Body: "a"}, {ID: 2, Body: "b"}}))
	model.applyEvent(envelope(t, EventChatMessage, models.Message{ID: 3, Body: "c"}))
	model.applyEvent(envelope(t, EventMessageDeleted, models.MessageID(2)))
	model.applyEvent(envelope(t, EventMessageDeleted, models.MessageID(99)))

	require.Len(t, model.history, 2)
	assert.Equal(t, models.MessageID(1), model.history[0].ID)
	assert.Equal(t, models.MessageID(3), model.history[1].ID)

	model.applyEvent(envelope(t, EventOnlineUsers, []string{"me", "you"}))
	assert.Equal(t, []string{"me", "you"}, model.online)
}

func TestApplyEvent_UploadPlaceholders(t *testing.T) {
	model := NewTUIModel("ws://localhost:3000/socket", "me")

	model.applyEvent(envelope(t, EventUploadStarted, UploadStartedEvent{UploadID: "u1", FileName: "a.bin", FileSize: 10, Nickname: "you"}))
	model.applyEvent(envelope(t, EventUploadStarted, UploadStartedEvent{UploadID: "u2", FileName: "b.bin"}))
	model.applyEvent(envelope(t, EventUploadProgress, UploadProgressEvent{UploadID: "u1", Percent: 40}))
	model.applyEvent(envelope(t, EventUploadFailed, UploadFailedEvent{UploadID: "u2", Error: "upload failed"}))

	require.Equal(t, []string{"u1", "u2"}, model.uploadOrder)
	assert.Equal(t, 40, model.uploads["u1"].Percent)
	assert.Equal(t, "upload failed", model.uploads["u2"].Failed)
	assert.Contains(t, model.View(), "a.bin")

	model.applyEvent(envelope(t, EventFileMessage, models.Message{ID: 5, Type: models.TypeFile, FileName: "a.bin", UploadID: "u1"}))
	assert.Equal(t, []string{"u2"}, model.uploadOrder)
	model.applyEvent(envelope(t, EventUploadCompleted, UploadCompletedEvent{UploadID: "u2"}))
	assert.Empty(t, model.uploads)
}

func TestApplyEvent_Health(t *testing.T) {
	model := NewTUIModel("ws://localhost:3000/socket", "me")

	model.applyEvent(envelope(t, EventServerHealth, HealthEvent{Degraded: true}))
	assert.Equal(t, "history is not being saved", model.degraded)
	model.applyEvent(envelope(t, EventServerHealth, HealthEvent{Degraded: true, Error: "disk full"}))
	assert.Equal(t, "disk full", model.degraded)
	model.applyEvent(envelope(t, EventServerHealth, HealthEvent{}))
	assert.Empty(t, model.degraded)
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("  /NICK  alice  ")
	require.True(t, ok)
	assert.Equal(t, clientCommand{name: "nick", arg: "alice"}, cmd)

	cmd, ok = parseCommand("/quit")
	require.True(t, ok)
	assert.Equal(t, clientCommand{name: "quit"}, cmd)

	_, ok = parseCommand("hello /nick")
	assert.False(t, ok)
}

func TestRunCommand_DeleteUsage(t *testing.T) {
	model := NewTUIModel("ws://localhost:3000/socket", "me")

	assert.Nil(t, model.runCommand(clientCommand{name: "delete", arg: "abc"}))
	assert.Nil(t, model.runCommand(clientCommand{name: "nick"}))
	assert.Nil(t, model.runCommand(clientCommand{name: "dance"}))
	assert.Equal(t, []string{"usage: /delete <id>", "usage: /nick <name>", "unknown command /dance; try /help"}, model.notices)

	assert.NotNil(t, model.runCommand(clientCommand{name: "delete", arg: "#42"}))
}

func TestBuildSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://host:3000":          "ws://host:3000/socket",
		"https://chat.example/":     "wss://chat.example/socket",
		"ws://host:3000/custom":     "ws://host:3000/custom",
		"wss://chat.example/socket": "wss://chat.example/socket",
	}
	for in, want := range tests {
		got, err := buildSocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := buildSocketURL("ftp://host")
	assert.Error(t, err)
}

func TestHTTPURL(t *testing.T) {
	got, err := httpURL("wss://chat.example/socket?x=1", "/upload")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example/upload", got)

	got, err = httpURL("ws://127.0.0.1:3000/socket", "/healthz")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:3000/healthz", got)

	_, err = httpURL("gopher://x", "/upload")
	assert.Error(t, err)
}

func TestProgressReader_ReportsInSteps(t *testing.T) {
	var reports []int
	reader := &progressReader{
		reader: iotest.OneByteReader(bytes.NewReader(make([]byte, 100))),
		total:  100,
		report: func(percent int) { reports = append(reports, percent) },
	}
	_, err := io.Copy(io.Discard, reader)
	require.NoError(t, err)

	require.Len(t, reports, 20)
	assert.Equal(t, 5, reports[0])
	assert.Equal(t, 100, reports[len(reports)-1])
}

func TestPostFile_AgainstUploadHandler(t *testing.T) {
	server, f := newHandlerFixture(t, 1<<20)
	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleUpload))
	defer httpServer.Close()

	model := NewTUIModel("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/socket", "me")
	result, err := model.postFile("up-9", "notes.txt", strings.NewReader("some notes"))
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", result.FileName)
	assert.EqualValues(t, 10, result.FileSize)
	assert.True(t, f.blobExists(result.StoredFileName))
}

func TestPostFile_ReportsServerError(t *testing.T) {
	server, _ := newHandlerFixture(t, 4)
	httpServer := httptest.NewServer(http.HandlerFunc(server.HandleUpload))
	defer httpServer.Close()

	model := NewTUIModel(httpServer.URL, "me")
	_, err := model.postFile("", "big.txt", strings.NewReader("more than four bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "413")
}
