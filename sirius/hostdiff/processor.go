package hostdiff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/queue"
)

// UploadMessage is the queue payload of an upload. Content is base64 in JSON.
type UploadMessage struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// EncodeUploadMessage builds the queue payload for an upload.
func EncodeUploadMessage(filename string, content []byte) ([]byte, error) {
	return json.Marshal(UploadMessage{Filename: filename, Content: content})
}

// NewIngestProcessor feeds queued uploads into svc. Duplicates are
// acknowledged; any other failure rejects the message.
func NewIngestProcessor(svc *Service) queue.MessageProcessor {
	return func(ctx context.Context, body []byte) error {
		var msg UploadMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: malformed upload message: %v", sirius.ErrInvalidFormat, err)
		}

		summary, err := svc.UploadSnapshot(ctx, msg.Content, msg.Filename)
		if errors.Is(err, sirius.ErrDuplicateSnapshot) {
			slog.InfoContext(ctx, "Queued upload already stored", "filename", msg.Filename, "existing_id", summary.ID)
			return nil
		}
		return err
	}
}
