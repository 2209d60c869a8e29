package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"habitTracker/internal/apperror"
	"habitTracker/internal/auth"
	usermodels "habitTracker/internal/user/models"
	userrepo "habitTracker/internal/user/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errBadCredentials = apperror.New(http.StatusUnauthorized, "no active account found with the given credentials")

type registerRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	Password  string  `json:"password" validate:"required,min=8,max=128"`
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type profileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

type telegramRequest struct {
	TelegramID       string  `json:"telegram_id" validate:"required,max=100"`
	TelegramUsername *string `json:"telegram_username" validate:"omitempty,max=100"`
}

type userResponse struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	FirstName        *string    `json:"first_name"`
	LastName         *string    `json:"last_name"`
	Phone            *string    `json:"phone"`
	TelegramID       *string    `json:"telegram_id"`
	TelegramUsername *string    `json:"telegram_username"`
	IsStaff          bool       `json:"is_staff"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at"`
}

func newUserResponse(u *usermodels.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Phone:            u.Phone,
		TelegramID:       u.TelegramID,
		TelegramUsername: u.TelegramUsername,
		IsStaff:          u.IsStaff,
		CreatedAt:        u.CreatedAt,
		LastLoginAt:      u.LastLoginAt,
	}
}

type loginResponse struct {
	auth.Pair
	User userResponse `json:"user"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	u := &usermodels.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		IsActive:     true,
	}
	err = h.users.Create(c.Request.Context(), u)
	if errors.Is(err, userrepo.ErrDuplicateEmail) {
		fieldError(c, "email", "a user with this email already exists")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.log.Info("user registered", zap.Int64("user_id", u.ID))
	c.JSON(http.StatusCreated, newUserResponse(u))
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	u, err := h.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, userrepo.ErrNotFound) {
		h.fail(c, errBadCredentials)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.Password)
	if err != nil {
		h.log.Warn("check password", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	if !ok || !u.IsActive {
		h.fail(c, errBadCredentials)
		return
	}

	pair, err := h.issuer.Issue(u)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.users.TouchLastLogin(ctx, u.ID); err != nil {
		h.log.Warn("record last login", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, loginResponse{Pair: pair, User: newUserResponse(u)})
}

// Refresh issues a new access token for a refresh token of an active user.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !h.bind(c, &req) {
		return
	}

	claims, err := h.issuer.Parse(strings.TrimSpace(req.Refresh), auth.RefreshToken)
	if err != nil {
		h.fail(c, apperror.New(http.StatusUnauthorized, "token is invalid or expired"))
		return
	}
	u, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if errors.Is(err, userrepo.ErrNotFound) || (err == nil && !u.IsActive) {
		h.fail(c, apperror.ErrUnauthorized)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	access, err := h.issuer.IssueAccess(claims)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

// currentUser loads the account behind the request's token. A token whose
// user no longer exists is treated as unauthenticated.
func (h *Handler) currentUser(c *gin.Context) (*usermodels.User, bool) {
	claims, ok := currentClaims(c)
	if !ok {
		h.fail(c, apperror.ErrUnauthorized)
		return nil, false
	}
	u, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if errors.Is(err, userrepo.ErrNotFound) || (err == nil && !u.IsActive) {
		h.fail(c, apperror.ErrUnauthorized)
		return nil, false
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return u, true
}

func (h *Handler) Profile(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newUserResponse(u))
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req profileRequest
	if !h.bind(c, &req) {
		return
	}

	updated, err := h.users.UpdateProfile(c.Request.Context(), u.ID, userrepo.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(updated))
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, newUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// ConnectTelegram stores the chat reminders are sent to.
func (h *Handler) ConnectTelegram(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req telegramRequest
	if !h.bind(c, &req) {
		return
	}
	chatID := strings.TrimSpace(req.TelegramID)
	if chatID == "" {
		fieldError(c, "telegram_id", "is required")
		return
	}

	if err := h.users.ConnectTelegram(c.Request.Context(), u.ID, chatID, req.TelegramUsername); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("telegram connected", zap.Int64("user_id", u.ID))
	c.JSON(http.StatusOK, gin.H{"message": "telegram account connected"})
}
