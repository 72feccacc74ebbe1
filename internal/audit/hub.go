package audit

import (
	"context"

	"github.com/axiomgate/governor/internal/stream"
)

// HubLog decorates a Log with a best-effort live fan-out into a
// stream.Hub, feeding the websocket surface in internal/httpapi. Same
// durable-append-wins shape as PublishingLog, mirrored to an in-process
// hub instead of Kafka.
type HubLog struct {
	Log Log
	Hub *stream.Hub
}

func (h *HubLog) Append(ctx context.Context, actor string, kind Kind, subjectID, detail string) (Record, error) {
	rec, err := h.Log.Append(ctx, actor, kind, subjectID, detail)
	if err != nil {
		return rec, err
	}
	if h.Hub != nil {
		h.Hub.Publish(stream.NewEvent("audit", rec))
	}
	return rec, nil
}

func (h *HubLog) Tail(ctx context.Context, afterSeq int64, limit int) ([]Record, error) {
	return h.Log.Tail(ctx, afterSeq, limit)
}
