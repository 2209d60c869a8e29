package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"habitTracker/internal/habit/models"
	"habitTracker/internal/habit/validation"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("habit: not found")

type Order int

const (
	// OrderByTime sorts by time of day, the default habit ordering.
	OrderByTime Order = iota
	// OrderNewest sorts by creation, newest first.
	OrderNewest
)

// ListFilter narrows a habit listing. Nil fields do not filter.
type ListFilter struct {
	OwnerID    *int64
	IsPleasant *bool
	IsPublic   *bool
	Order      Order
	Page       int
	PageSize   int
}

// Page is one page of a listing together with the total row count.
type Page[T any] struct {
	Items    []T
	Count    int
	Page     int
	PageSize int
}

func (p Page[T]) HasNext() bool {
	return p.Page*p.PageSize < p.Count
}

func (p Page[T]) HasPrevious() bool {
	return p.Page > 1
}

type Repository struct {
	db  *bun.DB
	now func() time.Time
}

func New(db *bun.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts h and stamps its creation time.
func (r *Repository) Create(ctx context.Context, h *models.Habit) error {
	h.CreatedAt = r.now().UTC()
	h.LastReminderAt = nil
	if _, err := r.db.NewInsert().Model(h).Exec(ctx); err != nil {
		return fmt.Errorf("insert habit: %w", err)
	}
	return nil
}

// Get loads a habit with its owner and linked habit.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Habit, error) {
	h := new(models.Habit)
	err := r.db.NewSelect().
		Model(h).
		Relation("User").
		Relation("LinkedHabit").
		Where("h.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select habit %d: %w", id, err)
	}
	if h.LinkedHabitID == nil {
		h.LinkedHabit = nil
	}
	return h, nil
}

// Update writes the user-editable columns. Owner, creation time and the
// reminder timestamp are never touched.
func (r *Repository) Update(ctx context.Context, h *models.Habit) error {
	res, err := r.db.NewUpdate().
		Model(h).
		Column("place", "time_of_day", "action", "is_pleasant", "linked_habit_id",
			"periodicity_days", "reward", "duration_seconds", "is_public").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update habit %d: %w", h.ID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a habit and its completions. Habits linking to it lose the link.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*models.Habit)(nil)).
			Set("linked_habit_id = NULL").
			Where("linked_habit_id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("unlink habit %d: %w", id, err)
		}

		_, err = tx.NewDelete().
			Model((*models.HabitCompletion)(nil)).
			Where("habit_id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete completions of habit %d: %w", id, err)
		}

		res, err := tx.NewDelete().
			Model((*models.Habit)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete habit %d: %w", id, err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// List returns one page of habits matching f.
func (r *Repository) List(ctx context.Context, f ListFilter) (Page[models.Habit], error) {
	var habits []models.Habit
	q := r.db.NewSelect().Model(&habits).Relation("User")
	if f.OwnerID != nil {
		q = q.Where("h.user_id = ?", *f.OwnerID)
	}
	if f.IsPleasant != nil {
		q = q.Where("h.is_pleasant = ?", *f.IsPleasant)
	}
	if f.IsPublic != nil {
		q = q.Where("h.is_public = ?", *f.IsPublic)
	}
	switch f.Order {
	case OrderNewest:
		q = q.Order("h.created_at DESC", "h.id DESC")
	default:
		q = q.Order("h.time_of_day ASC", "h.id ASC")
	}

	page, size := normalizePage(f.Page, f.PageSize)
	count, err := q.Limit(size).Offset((page - 1) * size).ScanAndCount(ctx)
	if err != nil {
		return Page[models.Habit]{}, fmt.Errorf("list habits: %w", err)
	}
	return Page[models.Habit]{Items: habits, Count: count, Page: page, PageSize: size}, nil
}

// OwnerLookup resolves linked habits among the habits of one owner. Habits of
// other users are reported as missing.
func (r *Repository) OwnerLookup(ownerID int64) validation.Lookup {
	return validation.LookupFunc(func(ctx context.Context, habitID int64) (bool, error) {
		h := new(models.Habit)
		err := r.db.NewSelect().
			Model(h).
			Column("id", "is_pleasant").
			Where("h.id = ?", habitID).
			Where("h.user_id = ?", ownerID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return false, validation.ErrHabitNotFound
		}
		if err != nil {
			return false, fmt.Errorf("lookup habit %d: %w", habitID, err)
		}
		return h.IsPleasant, nil
	})
}

// IsLinked reports whether any other habit uses habitID as its linked habit.
func (r *Repository) IsLinked(ctx context.Context, habitID int64) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Habit)(nil)).
		Where("h.linked_habit_id = ?", habitID).
		Where("h.id <> ?", habitID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check links to habit %d: %w", habitID, err)
	}
	return exists, nil
}

// Complete records that a habit was performed.
func (r *Repository) Complete(ctx context.Context, habitID int64, wasSuccessful bool, notes *string) (*models.HabitCompletion, error) {
	c := &models.HabitCompletion{
		HabitID:       habitID,
		CompletedAt:   r.now().UTC(),
		WasSuccessful: wasSuccessful,
		Notes:         notes,
	}
	if _, err := r.db.NewInsert().Model(c).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert completion: %w", err)
	}
	return c, nil
}

func (r *Repository) CountCompletions(ctx context.Context, habitID int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.HabitCompletion)(nil)).
		Where("hc.habit_id = ?", habitID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return count, nil
}

// ListCompletions returns a habit's completions, newest first.
func (r *Repository) ListCompletions(ctx context.Context, habitID int64, page, pageSize int) (Page[models.HabitCompletion], error) {
	var completions []models.HabitCompletion
	page, size := normalizePage(page, pageSize)
	count, err := r.db.NewSelect().
		Model(&completions).
		Where("hc.habit_id = ?", habitID).
		Order("hc.completed_at DESC", "hc.id DESC").
		Limit(size).
		Offset((page - 1) * size).
		ScanAndCount(ctx)
	if err != nil {
		return Page[models.HabitCompletion]{}, fmt.Errorf("list completions: %w", err)
	}
	return Page[models.HabitCompletion]{Items: completions, Count: count, Page: page, PageSize: size}, nil
}

// Stats aggregates the owner's habits and completions. Day and week
// boundaries are taken in now's location; weeks start on Monday.
func (r *Repository) Stats(ctx context.Context, ownerID int64, now time.Time) (models.Stats, error) {
	var stats models.Stats
	var err error

	habits := func() *bun.SelectQuery {
		return r.db.NewSelect().Model((*models.Habit)(nil)).Where("h.user_id = ?", ownerID)
	}
	completions := func() *bun.SelectQuery {
		return r.db.NewSelect().
			Model((*models.HabitCompletion)(nil)).
			Join("JOIN habits AS h ON h.id = hc.habit_id").
			Where("h.user_id = ?", ownerID)
	}

	if stats.TotalHabits, err = habits().Count(ctx); err != nil {
		return stats, fmt.Errorf("count habits: %w", err)
	}
	if stats.PublicHabits, err = habits().Where("h.is_public = ?", true).Count(ctx); err != nil {
		return stats, fmt.Errorf("count public habits: %w", err)
	}
	if stats.PleasantHabits, err = habits().Where("h.is_pleasant = ?", true).Count(ctx); err != nil {
		return stats, fmt.Errorf("count pleasant habits: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -((int(dayStart.Weekday()) + 6) % 7))
	dayEnd := dayStart.AddDate(0, 0, 1)

	if stats.CompletedToday, err = completions().
		Where("hc.completed_at >= ?", dayStart.UTC()).
		Where("hc.completed_at < ?", dayEnd.UTC()).
		Count(ctx); err != nil {
		return stats, fmt.Errorf("count today's completions: %w", err)
	}
	if stats.CompletedThisWeek, err = completions().
		Where("hc.completed_at >= ?", weekStart.UTC()).
		Count(ctx); err != nil {
		return stats, fmt.Errorf("count this week's completions: %w", err)
	}

	total, err := completions().Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count completions: %w", err)
	}
	successful, err := completions().Where("hc.was_successful = ?", true).Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count successful completions: %w", err)
	}
	if total > 0 {
		stats.SuccessRate = math.Round(float64(successful)/float64(total)*1000) / 10
	}
	return stats, nil
}

// DueAt returns the habits scheduled for hhmm with their owners loaded.
func (r *Repository) DueAt(ctx context.Context, hhmm string) ([]models.Habit, error) {
	var habits []models.Habit
	err := r.db.NewSelect().
		Model(&habits).
		Relation("User").
		Where("h.time_of_day = ?", hhmm).
		Order("h.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select due habits: %w", err)
	}
	return habits, nil
}

// MarkReminded stores when the last reminder for a habit went out.
func (r *Repository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*models.Habit)(nil)).
		Set("last_reminder_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark habit %d reminded: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

const maxPageSize = 100

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 5
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
