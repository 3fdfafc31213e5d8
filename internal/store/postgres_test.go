package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

// passThrough lets array and pgvector arguments reach sqlmock unchanged, as pgx would accept them.
type passThrough struct{}

func (passThrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passThrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestAtomic_CommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	pg, mock := newMock(t)
	uow := pg.Session()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO face_samples")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO face_embeddings")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := uow.Atomic(ctx, func(tx UnitOfWork) error {
		if err := tx.Faces().CreateSample(ctx, model.FaceSample{ID: "f1", IdentityID: "i1"}); err != nil {
			return err
		}
		return tx.Faces().CreateEmbedding(ctx, model.Embedding{FaceID: "f1", Vector: []float32{1, 2}})
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO face_samples")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO face_embeddings")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = uow.Atomic(ctx, func(tx UnitOfWork) error {
		if err := tx.Faces().CreateSample(ctx, model.FaceSample{ID: "f2", IdentityID: "i1"}); err != nil {
			return err
		}
		return tx.Faces().CreateEmbedding(ctx, model.Embedding{FaceID: "f2", Vector: []float32{1, 2}})
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithin_NestedAtomicJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	pg, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pg.Within(ctx, func(uow UnitOfWork) error {
		if err := uow.Audit().Append(ctx, model.AuditEntry{ID: "a1"}); err != nil {
			return err
		}
		return uow.Atomic(ctx, func(inner UnitOfWork) error {
			return inner.Audit().Append(ctx, model.AuditEntry{ID: "a2"})
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAfterCommit_RunsOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	pg, mock := newMock(t)

	var ran []string
	pg.Session().AfterCommit(func() { ran = append(ran, "autocommit") })
	assert.Equal(t, []string{"autocommit"}, ran)
	assert.False(t, pg.Session().Transactional())

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := pg.Within(ctx, func(uow UnitOfWork) error {
		assert.True(t, uow.Transactional())
		return uow.Atomic(ctx, func(inner UnitOfWork) error {
			inner.AfterCommit(func() { ran = append(ran, "committed") })
			assert.Len(t, ran, 1)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"autocommit", "committed"}, ran)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = pg.Within(ctx, func(uow UnitOfWork) error {
		uow.AfterCommit(func() { ran = append(ran, "rolled back") })
		return errors.New("abort")
	})
	require.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))
	err = pg.Within(ctx, func(uow UnitOfWork) error {
		uow.AfterCommit(func() { ran = append(ran, "commit failed") })
		return nil
	})
	require.Error(t, err)

	assert.Equal(t, []string{"autocommit", "committed"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentities_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	pg, mock := newMock(t)
	repo := pg.Session().Identities()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO identities")).
		WithArgs("i1", "E1", "Ann", "e1@placeholder.local", true, "user").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	got, created, err := repo.CreateIfAbsent(ctx, model.Identity{ID: "i1", ExternalKey: "E1", Name: "Ann", Email: "e1@placeholder.local", Active: true, Role: model.RoleUser})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, now, got.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO identities")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE external_key = $1")).
		WithArgs("E1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_key", "name", "email", "active", "role", "created_at"}).
			AddRow("i1", "E1", "Ann", "ann@corp.example", true, "admin", now))

	got, created, err = repo.CreateIfAbsent(ctx, model.Identity{ID: "i9", ExternalKey: "E1", Name: "Other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "i1", got.ID)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, model.RoleAdmin, got.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentities_NotFound(t *testing.T) {
	pg, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE external_key = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := pg.Session().Identities().GetByExternalKey(context.Background(), "ghost")
	assert.True(t, errors.Is(err, apperror.ErrIdentityNotFound))
}

func TestAttendance_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	pg, mock := newMock(t)
	repo := pg.Session().Attendance()
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	first := date.Add(9 * time.Hour)
	rec := model.AttendanceRecord{ID: "r1", IdentityID: "i1", Date: date, CheckIn: first, Status: model.StatusPresent}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (identity_id, date) DO NOTHING")).
		WithArgs("r1", "i1", date, first, "present").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1"))

	got, created, err := repo.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r1", got.ID)

	second := rec
	second.ID = "r2"
	second.CheckIn = first.Add(time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (identity_id, date) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_records WHERE identity_id = $1 AND date = $2")).
		WithArgs("i1", date).
		WillReturnRows(sqlmock.NewRows([]string{"id", "identity_id", "date", "check_in", "check_out", "status"}).
			AddRow("r1", "i1", date, first, nil, "present"))

	got, created, err = repo.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, first, got.CheckIn)
	assert.Nil(t, got.CheckOut)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendance_CountByStatus(t *testing.T) {
	pg, mock := newMock(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs("i1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("present", 12).AddRow("leave", 2))

	counts, err := pg.Session().Attendance().CountByStatus(context.Background(), "i1", from, to)
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusPresent: 12, model.StatusLeave: 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFaces_VectorsFor(t *testing.T) {
	pg, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE fs.identity_id = ANY($1)")).
		WithArgs([]string{"i1"}).
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "id", "quality_score", "embedding"}).
			AddRow("i1", "f1", 0.9, "[1,0.5,-2]"))

	vecs, err := pg.Session().Faces().VectorsFor(context.Background(), []string{"i1"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, []float32{1, 0.5, -2}, vecs[0].Vector)
	assert.Equal(t, 0.9, vecs[0].Quality)

	empty, err := pg.Session().Faces().VectorsFor(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFaces_DeleteMissing(t *testing.T) {
	pg, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM face_samples")).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := pg.Session().Faces().DeleteSample(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}
