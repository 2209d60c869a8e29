package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"habitTracker/internal/database"
	"habitTracker/internal/user/models"

	"github.com/uptrace/bun"
)

var (
	ErrNotFound       = errors.New("user: not found")
	ErrDuplicateEmail = errors.New("user: email already registered")
)

// Profile holds the user-editable fields; nil means unchanged.
type Profile struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

type Repository struct {
	db  bun.IDB
	now func() time.Time
}

func New(db bun.IDB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts u after normalizing its email. A taken email gives
// ErrDuplicateEmail, also when two registrations race.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	u.Email = models.NormalizeEmail(u.Email)
	now := r.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := r.db.NewInsert().Model(u).Exec(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("email = ?", models.NormalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getWhere(ctx, "id = ?", id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getWhere(ctx, "email = ?", models.NormalizeEmail(email))
}

func (r *Repository) getWhere(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	u := new(models.User)
	err := r.db.NewSelect().Model(u).Where(query, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// UpdateProfile applies p to the user and returns the stored result.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, p Profile) (*models.User, error) {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id)
	if p.FirstName != nil {
		q = q.Set("first_name = ?", *p.FirstName)
	}
	if p.LastName != nil {
		q = q.Set("last_name = ?", *p.LastName)
	}
	if p.Phone != nil {
		q = q.Set("phone = ?", *p.Phone)
	}
	if err := r.exec(ctx, q); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ConnectTelegram stores the chat the reminders for this user go to.
func (r *Repository) ConnectTelegram(ctx context.Context, id int64, telegramID string, username *string) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("telegram_id = ?", telegramID).
		Set("telegram_username = ?", username).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id)
	return r.exec(ctx, q)
}

func (r *Repository) TouchLastLogin(ctx context.Context, id int64) error {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("last_login_at = ?", r.now().UTC()).
		Where("id = ?", id)
	return r.exec(ctx, q)
}

// List returns every user ordered by email.
func (r *Repository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.db.NewSelect().Model(&users).Order("email ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *Repository) exec(ctx context.Context, q *bun.UpdateQuery) error {
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
