package store

import (
	"context"
	"database/sql"
	"time"

	"faceattend/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IdentityRepository persists identities. Identities are never hard-deleted.
type IdentityRepository interface {
	GetByExternalKey(ctx context.Context, key string) (model.Identity, error)
	GetByID(ctx context.Context, id string) (model.Identity, error)
	// CreateIfAbsent inserts ident unless its external key exists, in which
	// case the stored identity is returned untouched and created is false.
	CreateIfAbsent(ctx context.Context, ident model.Identity) (stored model.Identity, created bool, err error)
	// ListEnrolled returns active identities owning at least one embedding.
	ListEnrolled(ctx context.Context) ([]model.Identity, error)
}

// FaceRepository persists face samples and their 1:1 embeddings.
type FaceRepository interface {
	CreateSample(ctx context.Context, s model.FaceSample) error
	CreateEmbedding(ctx context.Context, e model.Embedding) error
	GetSample(ctx context.Context, id string) (model.FaceSample, error)
	ListSamples(ctx context.Context, identityID string) ([]model.FaceSample, error)
	// DeleteSample removes the sample together with its embedding.
	DeleteSample(ctx context.Context, id string) error
	// VectorsFor returns the embeddings of the given identities ordered by face sample id.
	VectorsFor(ctx context.Context, identityIDs []string) ([]model.EnrolledVector, error)
}

// AttendanceRepository persists the ledger.
type AttendanceRepository interface {
	// InsertIfAbsent creates rec unless (identity, date) exists. On conflict
	// the existing record is returned and created is false.
	InsertIfAbsent(ctx context.Context, rec model.AttendanceRecord) (stored model.AttendanceRecord, created bool, err error)
	Get(ctx context.Context, identityID string, date time.Time) (model.AttendanceRecord, error)
	List(ctx context.Context, identityID string, from, to time.Time) ([]model.AttendanceRecord, error)
	CountByStatus(ctx context.Context, identityID string, from, to time.Time) (map[model.Status]int, error)
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	Append(ctx context.Context, e model.AuditEntry) error
	List(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// UnitOfWork groups repositories sharing one session. The transaction
// boundary belongs to whoever created the unit.
type UnitOfWork interface {
	Identities() IdentityRepository
	Faces() FaceRepository
	Attendance() AttendanceRepository
	Audit() AuditRepository
	// Atomic runs fn so that its writes commit together or not at all. Inside
	// a caller-owned transaction it joins that transaction. fn must only use
	// the unit it receives.
	Atomic(ctx context.Context, fn func(UnitOfWork) error) error
	// AfterCommit defers fn until the unit's writes are durable: at once for
	// an autocommit unit, after commit inside a transaction. A rolled back
	// transaction drops it.
	AfterCommit(fn func())
	// Transactional reports whether the unit reads through an open transaction.
	Transactional() bool
}

// Sessions hands out units of work.
type Sessions interface {
	Session() UnitOfWork
	Within(ctx context.Context, fn func(UnitOfWork) error) error
}
