package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres hands out units of work over a database/sql pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Session returns an autocommit unit; its Atomic opens a short transaction.
func (p *Postgres) Session() UnitOfWork {
	return &pgUnit{db: p.db, q: p.db}
}

// Within runs fn inside one transaction owned by the caller of Within.
func (p *Postgres) Within(ctx context.Context, fn func(UnitOfWork) error) error {
	return withTx(ctx, p.db, fn)
}

type pgUnit struct {
	db    *sql.DB
	q     DBTX
	inTx  bool
	hooks *[]func()
}

func (u *pgUnit) Identities() IdentityRepository   { return &identityRepo{q: u.q} }
func (u *pgUnit) Faces() FaceRepository            { return &faceRepo{q: u.q} }
func (u *pgUnit) Attendance() AttendanceRepository { return &attendanceRepo{q: u.q} }
func (u *pgUnit) Audit() AuditRepository           { return &auditRepo{q: u.q} }

func (u *pgUnit) Atomic(ctx context.Context, fn func(UnitOfWork) error) error {
	if u.inTx {
		return fn(u)
	}
	return withTx(ctx, u.db, fn)
}

func (u *pgUnit) Transactional() bool { return u.inTx }

func (u *pgUnit) AfterCommit(fn func()) {
	if !u.inTx {
		fn()
		return
	}
	*u.hooks = append(*u.hooks, fn)
}

func withTx(ctx context.Context, db *sql.DB, fn func(UnitOfWork) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var hooks []func()
	if err = fn(&pgUnit{db: db, q: tx, inTx: true, hooks: &hooks}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

// IsUniqueViolation reports a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
