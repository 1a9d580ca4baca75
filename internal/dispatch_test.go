package internal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/models"
)

func frame(event, data string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":%s}`, event, data))
}

func TestDispatch_Nickname(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventSetNickname, `"alice"`)))
	require.NoError(t, f.engine.Dispatch(ctx, "c2", frame(EventSetNickname, `{"nickname":"bob"}`)))
	assert.Equal(t, []string{"alice", "bob"}, f.engine.Online())

	assert.Error(t, f.engine.Dispatch(ctx, "c3", frame(EventSetNickname, `42`)))
	assert.Error(t, f.engine.Dispatch(ctx, "c3", frame(EventSetNickname, `{"name":"x"}`)))
}

func TestDispatch_ChatAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventChatMessage, `"one"`)))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventChatMessage, `{"message":"two"}`)))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventChatMessage, `{"message":"three"}`)))
	messages := f.engine.Messages()
	require.Len(t, messages, 3)

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventDeleteMessage, messages[0].ID.String())))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventDeleteMessage, fmt.Sprintf(`"%d"`, messages[1].ID))))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventDeleteMessage, fmt.Sprintf(`{"id":%d}`, messages[2].ID))))
	assert.Empty(t, f.engine.Messages())

	assert.Error(t, f.engine.Dispatch(ctx, "c1", frame(EventDeleteMessage, `"abc"`)))
	assert.Error(t, f.engine.Dispatch(ctx, "c1", frame(EventDeleteMessage, `{}`)))
}

func TestDispatch_FileMessage(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventFileMessage,
		`{"fileName":"notes.txt","storedFileName":"id-notes.txt","filePath":"/files/id-notes.txt","fileSize":12}`)))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventImageMessage,
		`{"fileName":"cat.png","filePath":"/files/id-cat.png","fileSize":3}`)))

	messages := f.engine.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, models.TypeFile, messages[0].Type)
	assert.Equal(t, "/download/id-notes.txt", messages[0].DownloadPath)
	assert.Equal(t, models.TypeImage, messages[1].Type)
	assert.Equal(t, "id-cat.png", messages[1].StoredFileName)
	assert.Empty(t, messages[1].DownloadPath)

	assert.ErrorIs(t, f.engine.Dispatch(ctx, "c1", frame(EventFileMessage, `{"fileName":"x"}`)), errMalformed)
	assert.Len(t, f.engine.Messages(), 2)
}

func TestDispatch_UploadEvents(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventUploadStarted, `{"uploadId":"u","fileName":"a.bin","fileSize":10}`)))
	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventUploadProgress, `{"uploadId":"u","percent":42.6}`)))

	session, ok := f.engine.Upload("u")
	require.True(t, ok)
	assert.Equal(t, 43, session.Percent)

	assert.Error(t, f.engine.Dispatch(ctx, "c1", frame(EventUploadProgress, `{"uploadId":"u"}`)))
	assert.Error(t, f.engine.Dispatch(ctx, "c1", frame(EventUploadProgress, `{"uploadId":"u","percent":"half"}`)))

	require.NoError(t, f.engine.Dispatch(ctx, "c1", frame(EventUploadFailed, `{"uploadId":"u","error":"connection reset"}`)))
	failed := f.transport.named(EventUploadFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "connection reset", failed[0].Payload.(UploadFailedEvent).Error)
}

func TestDispatch_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	assert.Error(t, f.engine.Dispatch(ctx, "c1", []byte(`not json`)))
	assert.Error(t, f.engine.Dispatch(ctx, "c1", frame("shout", `"hi"`)))
	assert.Empty(t, f.engine.Messages())
	assert.Empty(t, f.transport.events)
}
