// Package attendance keeps the per-day attendance ledger.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"faceattend/internal/apperror"
	"faceattend/internal/clock"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// MarkedType is the queue message type published after a fresh mark.
const MarkedType = "attendance.marked"

// MarkedEvent is the body of a MarkedType message.
type MarkedEvent struct {
	IdentityID  string    `json:"identity_id"`
	ExternalKey string    `json:"external_key"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	RecordID    string    `json:"record_id"`
	Date        string    `json:"date"`
	CheckIn     time.Time `json:"check_in"`
}

// MarkResult is the outcome of Mark. A day that was already marked is not
// an error: AlreadyMarked is set and Record is the existing record.
type MarkResult struct {
	Record        model.AttendanceRecord `json:"record"`
	AlreadyMarked bool                   `json:"already_marked"`
}

// Ledger records at most one attendance record per identity and calendar date.
type Ledger struct {
	clock clock.Clock
	loc   *time.Location
	pub   queue.Publisher
	log   logrus.FieldLogger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLocation sets the zone in which calendar dates are taken.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

// WithPublisher enables MarkedEvent notifications.
func WithPublisher(p queue.Publisher) Option { return func(l *Ledger) { l.pub = p } }

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option { return func(l *Ledger) { l.log = log } }

// NewLedger builds a ledger. Dates default to UTC.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{}
	for _, opt := range opts {
		opt(l)
	}
	if l.loc == nil {
		l.loc = time.UTC
	}
	l.clock = clock.OrReal(l.clock)
	l.log = logger.OrStandard(l.log)
	return l
}

// Today returns the current calendar date.
func (l *Ledger) Today() time.Time {
	return model.DateOf(l.clock.Now(), l.loc)
}

// Mark records ident as present today. Concurrent calls for the same identity
// produce one record; the others see it with AlreadyMarked set.
func (l *Ledger) Mark(ctx context.Context, uow store.UnitOfWork, ident model.Identity, actor string) (MarkResult, error) {
	now := l.clock.Now()
	rec := model.AttendanceRecord{
		ID:         newRecordID(),
		IdentityID: ident.ID,
		Date:       model.DateOf(now, l.loc),
		CheckIn:    now.UTC(),
		Status:     model.StatusPresent,
	}

	var (
		stored  model.AttendanceRecord
		created bool
	)
	err := uow.Atomic(ctx, func(tx store.UnitOfWork) error {
		var err error
		stored, created, err = tx.Attendance().InsertIfAbsent(ctx, rec)
		if err != nil || !created {
			return err
		}
		return tx.Audit().Append(ctx, model.AuditEntry{
			ID:        uuid.NewString(),
			ActorKey:  actor,
			Action:    model.AuditMark,
			Subject:   ident.ExternalKey,
			Detail:    "present " + rec.Date.Format(time.DateOnly),
			CreatedAt: rec.CheckIn,
		})
	})
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues("error").Inc()
		return MarkResult{}, apperror.StoreUnavailable(err)
	}

	log := l.log.WithFields(logrus.Fields{"identity": ident.ExternalKey, "date": stored.Date.Format(time.DateOnly)})
	if !created {
		metrics.AttendanceMarks.WithLabelValues("already_marked").Inc()
		log.Debug("attendance already marked")
		return MarkResult{Record: stored, AlreadyMarked: true}, nil
	}
	metrics.AttendanceMarks.WithLabelValues("marked").Inc()
	log.Info("attendance marked")
	l.notify(ctx, ident, stored)
	return MarkResult{Record: stored}, nil
}

// MarkByKey resolves the identity by external key and marks it.
func (l *Ledger) MarkByKey(ctx context.Context, uow store.UnitOfWork, key, actor string) (MarkResult, error) {
	ident, err := uow.Identities().GetByExternalKey(ctx, key)
	if err != nil {
		return MarkResult{}, apperror.StoreUnavailable(err)
	}
	return l.Mark(ctx, uow, ident, actor)
}

// notify publishes the mark. A failed publish is logged and otherwise ignored.
func (l *Ledger) notify(ctx context.Context, ident model.Identity, rec model.AttendanceRecord) {
	if l.pub == nil {
		return
	}
	msg, err := queue.NewMessage(MarkedType, ident.ExternalKey, MarkedEvent{
		IdentityID:  ident.ID,
		ExternalKey: ident.ExternalKey,
		Name:        ident.Name,
		Email:       ident.Email,
		RecordID:    rec.ID,
		Date:        rec.Date.Format(time.DateOnly),
		CheckIn:     rec.CheckIn,
	})
	if err == nil {
		err = l.pub.Publish(ctx, msg)
	}
	if err != nil {
		l.log.WithError(err).WithField("identity", ident.ExternalKey).Warn("attendance notification not queued")
	}
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
