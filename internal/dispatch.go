package internal

import (
	"context"
	"encoding/json"
	"fmt"
)

// Dispatch decodes one inbound frame from connID and applies it. Malformed or
// unknown events are dropped; the returned error only explains why.
func (e *Engine) Dispatch(ctx context.Context, connID string, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventSetNickname:
		nickname, err := decodeText(env.Data, "nickname")
		if err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		e.SetNickname(ctx, connID, nickname)

	case EventChatMessage:
		body, err := decodeText(env.Data, "message")
		if err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		e.PostChat(ctx, connID, body)

	case EventFileMessage, EventImageMessage:
		var in FileUpload
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		var ok bool
		if env.Event == EventFileMessage {
			_, ok = e.PostFile(ctx, connID, in)
		} else {
			_, ok = e.PostImage(ctx, connID, in)
		}
		if !ok {
			return fmt.Errorf("%s: %w", env.Event, errMalformed)
		}

	case EventDeleteMessage:
		id, err := decodeMessageID(env.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		e.Delete(ctx, id)

	case EventUploadStarted:
		var in uploadStartedPayload
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		e.StartUpload(ctx, connID, in.UploadID, in.FileName, in.FileSize)

	case EventUploadProgress:
		var in uploadProgressPayload
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		if in.Percent == nil {
			return fmt.Errorf("%s: missing percent", env.Event)
		}
		e.ProgressUpload(ctx, connID, in.UploadID, *in.Percent)

	case EventUploadFailed:
		var in uploadFailedPayload
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return fmt.Errorf("%s: %w", env.Event, err)
		}
		e.FailUpload(ctx, connID, in.UploadID, in.Error)

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}
