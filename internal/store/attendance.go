package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

type attendanceRepo struct {
	q DBTX
}

const recordColumns = `id, identity_id, date, check_in, check_out, status`

func scanRecord(row interface{ Scan(...any) error }) (model.AttendanceRecord, error) {
	var (
		rec      model.AttendanceRecord
		checkOut sql.NullTime
		status   string
	)
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.Date, &rec.CheckIn, &checkOut, &status); err != nil {
		return model.AttendanceRecord{}, err
	}
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOut = &t
	}
	rec.Status = model.Status(status)
	return rec, nil
}

// InsertIfAbsent relies on the (identity_id, date) unique constraint: a
// concurrent loser's insert does nothing and it reads the winner's row.
func (r *attendanceRepo) InsertIfAbsent(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, identity_id, date, check_in, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_id, date) DO NOTHING
		RETURNING id
	`, rec.ID, rec.IdentityID, rec.Date, rec.CheckIn, string(rec.Status))
	var id string
	err := row.Scan(&id)
	if err == nil {
		rec.ID = id
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, false, err
	}
	existing, err := r.Get(ctx, rec.IdentityID, rec.Date)
	return existing, false, err
}

func (r *attendanceRepo) Get(ctx context.Context, identityID string, date time.Time) (model.AttendanceRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE identity_id = $1 AND date = $2`, identityID, date)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, apperror.ErrNotFound
	}
	return rec, err
}

func (r *attendanceRepo) List(ctx context.Context, identityID string, from, to time.Time) ([]model.AttendanceRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE identity_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`, identityID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *attendanceRepo) CountByStatus(ctx context.Context, identityID string, from, to time.Time) (map[model.Status]int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM attendance_records
		WHERE identity_id = $1 AND date >= $2 AND date <= $3
		GROUP BY status
	`, identityID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}
