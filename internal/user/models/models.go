package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User is identified by email; there is no username.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID               int64      `bun:"id,pk,autoincrement"`
	Email            string     `bun:"email,unique,notnull"`
	PasswordHash     string     `bun:"password_hash,notnull"`
	FirstName        *string    `bun:"first_name"`
	LastName         *string    `bun:"last_name"`
	Phone            *string    `bun:"phone"`
	TelegramID       *string    `bun:"telegram_id"`
	TelegramUsername *string    `bun:"telegram_username"`
	IsStaff          bool       `bun:"is_staff,notnull,default:false"`
	IsActive         bool       `bun:"is_active,notnull"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt      *time.Time `bun:"last_login_at"`
}

// ChatID returns the telegram chat the user connected, or "" when none.
func (u *User) ChatID() string {
	if u == nil || u.TelegramID == nil {
		return ""
	}
	return strings.TrimSpace(*u.TelegramID)
}

// NormalizeEmail trims the address and lower-cases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}
