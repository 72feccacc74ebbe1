package postgres

import (
	"context"
	"time"

	"github.com/axiomgate/governor/internal/audit"
)

// AuditLog appends records into a Postgres table whose seq column is a
// database sequence (audit_records_seq), giving the strictly-increasing
// monotonic sequence number §4.5 requires even across process restarts —
// the durable analogue of audit.MemoryLog's in-process counter.
type AuditLog struct {
	DB db
}

func NewAuditLog(d db) *AuditLog {
	return &AuditLog{DB: d}
}

func (a *AuditLog) Append(ctx context.Context, actor string, kind audit.Kind, subjectID, detail string) (audit.Record, error) {
	var seq int64
	var wallTime time.Time
	row := a.DB.QueryRow(ctx, `
		INSERT INTO audit_records (seq, wall_time, actor, kind, subject_id, detail)
		VALUES (nextval('audit_records_seq'), now(), $1, $2, $3, $4)
		RETURNING seq, wall_time
	`, actor, string(kind), subjectID, detail)
	if err := row.Scan(&seq, &wallTime); err != nil {
		return audit.Record{}, err
	}
	return audit.Record{
		Seq:       seq,
		WallTime:  wallTime,
		Actor:     actor,
		Kind:      kind,
		SubjectID: subjectID,
		Detail:    detail,
	}, nil
}

func (a *AuditLog) Tail(ctx context.Context, afterSeq int64, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.DB.Query(ctx, `
		SELECT seq, wall_time, actor, kind, subject_id, detail
		FROM audit_records WHERE seq > $1 ORDER BY seq ASC LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Record
	for rows.Next() {
		var rec audit.Record
		var kind string
		if err := rows.Scan(&rec.Seq, &rec.WallTime, &rec.Actor, &kind, &rec.SubjectID, &rec.Detail); err != nil {
			return nil, err
		}
		rec.Kind = audit.Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}
