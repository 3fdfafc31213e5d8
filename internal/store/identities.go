package store

import (
	"context"
	"database/sql"
	"errors"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

type identityRepo struct {
	q DBTX
}

const identityColumns = `id, external_key, name, email, active, role, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (model.Identity, error) {
	var (
		ident model.Identity
		role  string
	)
	if err := row.Scan(&ident.ID, &ident.ExternalKey, &ident.Name, &ident.Email, &ident.Active, &role, &ident.CreatedAt); err != nil {
		return model.Identity{}, err
	}
	ident.Role = model.ParseRole(role)
	return ident, nil
}

func (r *identityRepo) GetByExternalKey(ctx context.Context, key string) (model.Identity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE external_key = $1`, key)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, apperror.ErrIdentityNotFound
	}
	return ident, err
}

func (r *identityRepo) GetByID(ctx context.Context, id string) (model.Identity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, apperror.ErrIdentityNotFound
	}
	return ident, err
}

func (r *identityRepo) CreateIfAbsent(ctx context.Context, ident model.Identity) (model.Identity, bool, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO identities (id, external_key, name, email, active, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_key) DO NOTHING
		RETURNING created_at
	`, ident.ID, ident.ExternalKey, ident.Name, ident.Email, ident.Active, string(ident.Role))
	err := row.Scan(&ident.CreatedAt)
	if err == nil {
		return ident, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, false, err
	}
	existing, err := r.GetByExternalKey(ctx, ident.ExternalKey)
	return existing, false, err
}

func (r *identityRepo) ListEnrolled(ctx context.Context) ([]model.Identity, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities i
		WHERE i.active AND EXISTS (
			SELECT 1 FROM face_samples fs
			JOIN face_embeddings fe ON fe.face_id = fs.id
			WHERE fs.identity_id = i.id
		)
		ORDER BY i.external_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}
