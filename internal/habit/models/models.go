package models

import (
	"time"

	usermodels "habitTracker/internal/user/models"

	"github.com/uptrace/bun"
)

const (
	MinPeriodicityDays = 1
	MaxPeriodicityDays = 7
	MinDurationSeconds = 1
	MaxDurationSeconds = 120

	// TimeOfDayLayout is how time_of_day is stored and matched by reminders.
	TimeOfDayLayout = "15:04"
)

type Habit struct {
	bun.BaseModel `bun:"table:habits,alias:h"`

	ID              int64            `bun:"id,pk,autoincrement"`
	UserID          int64            `bun:"user_id,notnull"`
	User            *usermodels.User `bun:"rel:belongs-to,join:user_id=id"`
	Place           string           `bun:"place,notnull"`
	TimeOfDay       string           `bun:"time_of_day,notnull"`
	Action          string           `bun:"action,notnull"`
	IsPleasant      bool             `bun:"is_pleasant,notnull,default:false"`
	LinkedHabitID   *int64           `bun:"linked_habit_id"`
	LinkedHabit     *Habit           `bun:"rel:belongs-to,join:linked_habit_id=id"`
	PeriodicityDays int              `bun:"periodicity_days,notnull,default:1"`
	Reward          *string          `bun:"reward"`
	DurationSeconds int              `bun:"duration_seconds,notnull"`
	IsPublic        bool             `bun:"is_public,notnull,default:false"`
	CreatedAt       time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	LastReminderAt  *time.Time       `bun:"last_reminder_at"`
}

// RewardText returns the reward or "" when unset.
func (h *Habit) RewardText() string {
	if h.Reward == nil {
		return ""
	}
	return *h.Reward
}

// HabitCompletion records one performance of a habit.
type HabitCompletion struct {
	bun.BaseModel `bun:"table:habit_completions,alias:hc"`

	ID            int64     `bun:"id,pk,autoincrement"`
	HabitID       int64     `bun:"habit_id,notnull"`
	Habit         *Habit    `bun:"rel:belongs-to,join:habit_id=id"`
	CompletedAt   time.Time `bun:"completed_at,notnull,default:current_timestamp"`
	WasSuccessful bool      `bun:"was_successful,notnull"`
	Notes         *string   `bun:"notes"`
}

// Stats is the per-user aggregate served by the stats endpoint.
type Stats struct {
	TotalHabits       int     `json:"total_habits"`
	CompletedToday    int     `json:"completed_today"`
	CompletedThisWeek int     `json:"completed_this_week"`
	SuccessRate       float64 `json:"success_rate"`
	PublicHabits      int     `json:"public_habits"`
	PleasantHabits    int     `json:"pleasant_habits"`
}
