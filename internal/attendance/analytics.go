package attendance

import (
	"context"
	"math"
	"time"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

// epoch bounds "all time" queries.
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Analytics summarizes an identity's ledger.
type Analytics struct {
	TotalDays           int     `json:"total_days"`
	PresentDays         int     `json:"present_days"`
	AbsentDays          int     `json:"absent_days"`
	HalfDays            int     `json:"half_days"`
	LeaveDays           int     `json:"leave_days"`
	AttendancePercent   float64 `json:"attendance_percentage"`
	CurrentMonthPresent int     `json:"current_month_present"`
	CurrentMonthTotal   int     `json:"current_month_total"`
}

// Analytics aggregates all of identityID's records. It only reads.
func (l *Ledger) Analytics(ctx context.Context, uow store.UnitOfWork, identityID string) (Analytics, error) {
	today := l.Today()
	all, err := uow.Attendance().CountByStatus(ctx, identityID, epoch, today)
	if err != nil {
		return Analytics{}, apperror.StoreUnavailable(err)
	}
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	month, err := uow.Attendance().CountByStatus(ctx, identityID, monthStart, today)
	if err != nil {
		return Analytics{}, apperror.StoreUnavailable(err)
	}

	a := Analytics{
		PresentDays:         all[model.StatusPresent],
		AbsentDays:          all[model.StatusAbsent],
		HalfDays:            all[model.StatusHalfDay],
		LeaveDays:           all[model.StatusLeave],
		CurrentMonthPresent: month[model.StatusPresent],
	}
	for _, n := range all {
		a.TotalDays += n
	}
	for _, n := range month {
		a.CurrentMonthTotal += n
	}
	if a.TotalDays > 0 {
		a.AttendancePercent = math.Round(float64(a.PresentDays)/float64(a.TotalDays)*10000) / 100
	}
	return a, nil
}

// History returns identityID's records between from and to inclusive, newest
// first. Zero bounds mean the last 30 days.
func (l *Ledger) History(ctx context.Context, uow store.UnitOfWork, identityID string, from, to time.Time) ([]model.AttendanceRecord, error) {
	if to.IsZero() {
		to = l.Today()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if from.After(to) {
		return nil, apperror.New(apperror.CodeInvalidInput, "from must not be after to", apperror.ErrInvalidInput.HTTPStatus)
	}
	recs, err := uow.Attendance().List(ctx, identityID, from, to)
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	if recs == nil {
		recs = []model.AttendanceRecord{}
	}
	return recs, nil
}
