// Package notify contains the wake-up dispatcher and the notification action
// handler: the code that runs when an armed reminder fires and when the user
// responds to it. Presentation itself (icons, channels, rendering chrome) is
// behind the [Notifier] interface.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lembremed/lembremed/internal/model"
	"github.com/lembremed/lembremed/internal/store"
)

// ErrPermissionDenied is returned by a Notifier when notification display has
// been revoked. Delivery is skipped but scheduling must continue.
var ErrPermissionDenied = errors.New("notification permission denied")

// Action identifiers consumed by [Actions.Handle].
const (
	ActionTaken   = "taken"
	ActionConfirm = "confirm"
)

// Action is a user-interaction button attached to a notification.
type Action struct {
	ID    string
	Title string
}

// Notification is a rendered reminder ready for display.
type Notification struct {
	// Key is the presentation key; reusing a key replaces the shown
	// notification. It equals the reminder record id.
	Key     int64
	Title   string
	Body    string
	Actions []Action
}

// Notifier is the notification presentation facility.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is the daemon's default
// presenter and a stand-in wherever no platform presenter is wired.
type LogNotifier struct {
	Log *slog.Logger
}

// Show implements Notifier.
func (l *LogNotifier) Show(_ context.Context, n Notification) error {
	l.Log.Info("notification",
		"key", n.Key,
		"title", n.Title,
		"body", n.Body,
		"actions", len(n.Actions),
	)
	return nil
}

// render builds the display content for a record by slot kind.
func render(rec *store.Record) Notification {
	n := Notification{Key: rec.ID}

	subject := rec.Label
	if rec.Recipient != "" {
		subject = fmt.Sprintf("%s — %s", rec.Recipient, rec.Label)
	}

	switch rec.Slot {
	case model.SlotDose, model.SlotInterval:
		n.Title = "Time to take your medication"
		n.Body = subject
		if rec.Note != "" {
			n.Body += " (" + rec.Note + ")"
		}
		n.Actions = []Action{{ID: ActionTaken, Title: "Taken"}}

	case model.SlotPre24h:
		n.Title = "Appointment tomorrow"
		n.Body = subject
	case model.SlotPre2h:
		n.Title = "Appointment in 2 hours"
		n.Body = subject
	case model.SlotPostEvent:
		n.Title = "Did you attend?"
		n.Body = subject
		n.Actions = []Action{{ID: ActionConfirm, Title: "Yes"}}

	case model.SlotExpiry3d:
		n.Title = "Prescription expires in 3 days"
		n.Body = subject
	case model.SlotExpiry1d:
		n.Title = "Prescription expires tomorrow"
		n.Body = subject
	case model.SlotExpiryDay:
		n.Title = "Prescription expires today"
		n.Body = subject
	case model.SlotExpiryAfter:
		n.Title = "Prescription expired — renewed?"
		n.Body = subject
		n.Actions = []Action{{ID: ActionConfirm, Title: "Renewed"}}

	default:
		n.Title = "Reminder"
		n.Body = subject
	}
	return n
}
