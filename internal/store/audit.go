package store

import (
	"context"

	"faceattend/internal/model"
)

type auditRepo struct {
	q DBTX
}

func (r *auditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_key, action, subject, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.ActorKey, e.Action, e.Subject, e.Detail, e.CreatedAt)
	return err
}

func (r *auditRepo) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, actor_key, action, subject, detail, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorKey, &e.Action, &e.Subject, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
