package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"faceattend/internal/attendance"
	"faceattend/internal/logger"
	"faceattend/internal/model"
	"faceattend/internal/queue"
)

// Notifier turns attendance events into emails for the employee and the
// administrator.
type Notifier struct {
	sender Sender
	admin  string
	loc    *time.Location
	log    logrus.FieldLogger
}

// NewNotifier builds a Notifier. An empty admin address disables the admin copy.
func NewNotifier(sender Sender, admin string, loc *time.Location, log logrus.FieldLogger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{sender: sender, admin: strings.TrimSpace(admin), loc: loc, log: logger.OrStandard(log)}
}

// Handle dispatches a queue message. Unknown types are ignored.
func (n *Notifier) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != attendance.MarkedType {
		n.log.WithField("type", msg.Type).Debug("ignoring message")
		return nil
	}
	var evt attendance.MarkedEvent
	if err := msg.Decode(&evt); err != nil {
		return fmt.Errorf("notify: decode %s: %w", msg.Type, err)
	}
	return n.AttendanceMarked(ctx, evt)
}

// AttendanceMarked sends the confirmation and the admin notification.
// Auto-provisioned identities have no real address and get no confirmation.
func (n *Notifier) AttendanceMarked(ctx context.Context, evt attendance.MarkedEvent) error {
	at := evt.CheckIn.In(n.loc).Format("15:04:05")
	name := evt.Name
	if name == "" {
		name = evt.ExternalKey
	}
	log := n.log.WithFields(logrus.Fields{"identity": evt.ExternalKey, "date": evt.Date})

	var errs []error
	if evt.Email != "" && !strings.HasSuffix(evt.Email, model.PlaceholderEmail("")) {
		body := fmt.Sprintf("Hello %s,\n\nYour attendance has been marked successfully.\n\nDetails:\n- Date: %s\n- Time: %s\n- Status: Present\n\nFaceAttend",
			name, evt.Date, at)
		if err := n.sender.Send(ctx, []string{evt.Email}, "Attendance marked successfully", body); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("attendance confirmation sent")
		}
	}
	if n.admin != "" {
		body := fmt.Sprintf("New attendance recorded:\n\nEmployee: %s (ID: %s)\nDate: %s\nTime: %s\nStatus: Present\n\nFaceAttend",
			name, evt.ExternalKey, evt.Date, at)
		if err := n.sender.Send(ctx, []string{n.admin}, "Attendance: "+name, body); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("admin notification sent")
		}
	}
	return errors.Join(errs...)
}
