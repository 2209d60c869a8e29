// Package reminder sends Telegram reminders for habits scheduled at the
// current minute.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"habitTracker/internal/habit/models"
	"habitTracker/internal/habit/repository"
	"habitTracker/internal/telegram"

	"go.uber.org/zap"
)

// Store is the habit access the dispatcher needs.
type Store interface {
	DueAt(ctx context.Context, hhmm string) ([]models.Habit, error)
	Get(ctx context.Context, id int64) (*models.Habit, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

type Outcome int

const (
	OutcomeSent Outcome = iota
	// OutcomeNotFound means the habit vanished between selection and sending.
	// Nothing is sent and nothing is retried.
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Report summarizes one check.
type Report struct {
	Due      int
	Sent     int
	NotFound int
	Failed   int
	Skipped  int
}

type Dispatcher struct {
	store  Store
	sender telegram.Sender
	loc    *time.Location
	log    *zap.Logger
	now    func() time.Time
}

func New(store Store, sender telegram.Sender, loc *time.Location, log *zap.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{store: store, sender: sender, loc: loc, log: log, now: time.Now}
}

// Check sends the reminders due at the current minute.
func (d *Dispatcher) Check(ctx context.Context) (Report, error) {
	now := d.now().In(d.loc)
	habits, err := d.store.DueAt(ctx, now.Format(models.TimeOfDayLayout))
	if err != nil {
		return Report{}, err
	}

	report := Report{Due: len(habits)}
	for i := range habits {
		h := &habits[i]
		chatID := h.User.ChatID()
		if !IsDue(h, now) || chatID == "" {
			report.Skipped++
			continue
		}
		switch d.SendReminder(ctx, h.ID, chatID) {
		case OutcomeSent:
			report.Sent++
		case OutcomeNotFound:
			report.NotFound++
		case OutcomeFailed:
			report.Failed++
		}
	}
	return report, nil
}

// SendReminder reloads the habit and sends its reminder to chatID.
func (d *Dispatcher) SendReminder(ctx context.Context, habitID int64, chatID string) Outcome {
	h, err := d.store.Get(ctx, habitID)
	if errors.Is(err, repository.ErrNotFound) {
		d.log.Debug("habit gone before reminder", zap.Int64("habit_id", habitID))
		return OutcomeNotFound
	}
	if err != nil {
		d.log.Error("load habit for reminder", zap.Int64("habit_id", habitID), zap.Error(err))
		return OutcomeFailed
	}

	if err := d.sender.Send(chatID, FormatMessage(h)); err != nil {
		d.log.Warn("reminder not delivered", zap.Int64("habit_id", habitID), zap.Error(err))
		return OutcomeFailed
	}

	if err := d.store.MarkReminded(ctx, habitID, d.now()); err != nil {
		d.log.Error("mark habit reminded", zap.Int64("habit_id", habitID), zap.Error(err))
	}
	return OutcomeSent
}

// IsDue reports whether h should be reminded on now's day: not reminded yet
// that day, and a whole multiple of its periodicity since creation.
func IsDue(h *models.Habit, now time.Time) bool {
	loc := now.Location()
	if h.LastReminderAt != nil && sameDay(h.LastReminderAt.In(loc), now) {
		return false
	}
	period := h.PeriodicityDays
	if period < models.MinPeriodicityDays {
		period = models.MinPeriodicityDays
	}
	return daysBetween(h.CreatedAt.In(loc), now)%period == 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// FormatMessage renders the HTML reminder text for h.
func FormatMessage(h *models.Habit) string {
	var msg strings.Builder
	msg.WriteString("⏰ <b>Habit reminder</b>\n\n")
	msg.WriteString(fmt.Sprintf("I will %s at %s in %s.\n",
		html.EscapeString(h.Action), html.EscapeString(h.TimeOfDay), html.EscapeString(h.Place)))
	msg.WriteString(fmt.Sprintf("Duration: %d sec.\n", h.DurationSeconds))
	if reward := h.RewardText(); reward != "" {
		msg.WriteString(fmt.Sprintf("Reward: %s\n", html.EscapeString(reward)))
	}
	if h.LinkedHabit != nil {
		msg.WriteString(fmt.Sprintf("Then: %s\n", html.EscapeString(h.LinkedHabit.Action)))
	}
	return msg.String()
}
