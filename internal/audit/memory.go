package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is a single-writer, in-process audit log used by unit tests.
// A single mutex is the serialization point; Tail
// never takes it for longer than a slice copy, so readers never block
// writers for more than that.
type MemoryLog struct {
	mu      sync.Mutex
	nextSeq int64
	records []Record
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

func (l *MemoryLog) Append(ctx context.Context, actor string, kind Kind, subjectID, detail string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq++
	rec := Record{
		Seq:       l.nextSeq,
		WallTime:  l.now().UTC(),
		Actor:     actor,
		Kind:      kind,
		SubjectID: subjectID,
		Detail:    detail,
	}
	l.records = append(l.records, rec)
	return rec, nil
}

func (l *MemoryLog) Tail(ctx context.Context, afterSeq int64, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, r := range l.records {
		if r.Seq <= afterSeq {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
