package audit

import "context"

// PublishingLog decorates a Log with a best-effort fan-out publish after
// every successful append. The durable append always happens first and
// always wins: a publish error is swallowed, never surfaced to the caller,
// matching §4.6's "must not be the sole authority" spirit applied to a
// downstream mirror instead of the executor.
type PublishingLog struct {
	Log       Log
	Publisher *Publisher
	OnPublishError func(Record, error)
}

func (p *PublishingLog) Append(ctx context.Context, actor string, kind Kind, subjectID, detail string) (Record, error) {
	rec, err := p.Log.Append(ctx, actor, kind, subjectID, detail)
	if err != nil {
		return rec, err
	}
	if p.Publisher != nil {
		if pubErr := p.Publisher.Publish(ctx, rec); pubErr != nil && p.OnPublishError != nil {
			p.OnPublishError(rec, pubErr)
		}
	}
	return rec, nil
}

func (p *PublishingLog) Tail(ctx context.Context, afterSeq int64, limit int) ([]Record, error) {
	return p.Log.Tail(ctx, afterSeq, limit)
}
