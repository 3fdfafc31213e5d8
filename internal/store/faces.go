package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

type faceRepo struct {
	q DBTX
}

const sampleColumns = `id, identity_id, image_ref, confidence, box_x, box_y, box_width, box_height,
	quality_score, is_blurry, brightness, sharpness, is_primary, created_at`

func scanSample(row interface{ Scan(...any) error }) (model.FaceSample, error) {
	var s model.FaceSample
	err := row.Scan(&s.ID, &s.IdentityID, &s.ImageRef, &s.Confidence, &s.Box.X, &s.Box.Y, &s.Box.Width, &s.Box.Height,
		&s.QualityScore, &s.IsBlurry, &s.Brightness, &s.Sharpness, &s.IsPrimary, &s.CreatedAt)
	return s, err
}

func (r *faceRepo) CreateSample(ctx context.Context, s model.FaceSample) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO face_samples (id, identity_id, image_ref, confidence, box_x, box_y, box_width, box_height,
			quality_score, is_blurry, brightness, sharpness, is_primary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, s.ID, s.IdentityID, s.ImageRef, s.Confidence, s.Box.X, s.Box.Y, s.Box.Width, s.Box.Height,
		s.QualityScore, s.IsBlurry, s.Brightness, s.Sharpness, s.IsPrimary, s.CreatedAt)
	return err
}

func (r *faceRepo) CreateEmbedding(ctx context.Context, e model.Embedding) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO face_embeddings (face_id, embedding, model_name, model_version, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.FaceID, pgvector.NewVector(e.Vector), e.ModelName, e.ModelVersion, e.CreatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("face %s already has an embedding: %w", e.FaceID, err)
	}
	return err
}

func (r *faceRepo) GetSample(ctx context.Context, id string) (model.FaceSample, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM face_samples WHERE id = $1`, id)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FaceSample{}, apperror.ErrNotFound
	}
	return s, err
}

func (r *faceRepo) ListSamples(ctx context.Context, identityID string) ([]model.FaceSample, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+sampleColumns+` FROM face_samples WHERE identity_id = $1 ORDER BY id`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FaceSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *faceRepo) DeleteSample(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM face_samples WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.ErrNotFound
	}
	return nil
}

func (r *faceRepo) VectorsFor(ctx context.Context, identityIDs []string) ([]model.EnrolledVector, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT fs.identity_id, fs.id, fs.quality_score, fe.embedding
		FROM face_samples fs
		JOIN face_embeddings fe ON fe.face_id = fs.id
		WHERE fs.identity_id = ANY($1)
		ORDER BY fs.id
	`, identityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EnrolledVector
	for rows.Next() {
		var (
			ev  model.EnrolledVector
			vec pgvector.Vector
		)
		if err := rows.Scan(&ev.IdentityID, &ev.FaceID, &ev.Quality, &vec); err != nil {
			return nil, err
		}
		ev.Vector = vec.Slice()
		out = append(out, ev)
	}
	return out, rows.Err()
}
