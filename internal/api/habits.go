package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"habitTracker/internal/apperror"
	"habitTracker/internal/habit/models"
	habitrepo "habitTracker/internal/habit/repository"
	"habitTracker/internal/habit/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// habitRequest is a full habit as sent on create and replace.
type habitRequest struct {
	Place           *string `json:"place" validate:"required,min=1,max=255"`
	TimeOfDay       *string `json:"time_of_day" validate:"required,timeofday"`
	Action          *string `json:"action" validate:"required,min=1,max=500"`
	IsPleasant      *bool   `json:"is_pleasant"`
	LinkedHabitID   *int64  `json:"linked_habit_id"`
	PeriodicityDays *int    `json:"periodicity_days"`
	Reward          *string `json:"reward" validate:"omitempty,max=255"`
	DurationSeconds *int    `json:"duration_seconds" validate:"required"`
	IsPublic        *bool   `json:"is_public"`
}

// habitPatch carries the fields of a partial update. Explicit nulls for
// reward and linked_habit_id clear them.
type habitPatch struct {
	Place           *string `json:"place" validate:"omitempty,min=1,max=255"`
	TimeOfDay       *string `json:"time_of_day" validate:"omitempty,timeofday"`
	Action          *string `json:"action" validate:"omitempty,min=1,max=500"`
	IsPleasant      *bool   `json:"is_pleasant"`
	LinkedHabitID   *int64  `json:"linked_habit_id"`
	PeriodicityDays *int    `json:"periodicity_days"`
	Reward          *string `json:"reward" validate:"omitempty,max=255"`
	DurationSeconds *int    `json:"duration_seconds"`
	IsPublic        *bool   `json:"is_public"`

	clearLink   bool
	clearReward bool
}

func (p *habitPatch) fields() validation.Fields {
	return validation.Fields{
		Reward:          p.Reward,
		LinkedHabitID:   p.LinkedHabitID,
		IsPleasant:      p.IsPleasant,
		PeriodicityDays: p.PeriodicityDays,
		DurationSeconds: p.DurationSeconds,
	}
}

// apply copies the present fields onto h.
func (p *habitPatch) apply(h *models.Habit) {
	if p.clearLink {
		h.LinkedHabitID = nil
	}
	if p.clearReward {
		h.Reward = nil
	}
	if p.Place != nil {
		h.Place = strings.TrimSpace(*p.Place)
	}
	if p.TimeOfDay != nil {
		h.TimeOfDay, _ = ParseTimeOfDay(*p.TimeOfDay)
	}
	if p.Action != nil {
		h.Action = strings.TrimSpace(*p.Action)
	}
	if p.IsPleasant != nil {
		h.IsPleasant = *p.IsPleasant
	}
	if p.LinkedHabitID != nil {
		h.LinkedHabitID = p.LinkedHabitID
	}
	if p.PeriodicityDays != nil {
		h.PeriodicityDays = *p.PeriodicityDays
	}
	if p.Reward != nil {
		h.Reward = normalizeReward(p.Reward)
	}
	if p.DurationSeconds != nil {
		h.DurationSeconds = *p.DurationSeconds
	}
	if p.IsPublic != nil {
		h.IsPublic = *p.IsPublic
	}
}

// habit builds a new habit from a full request. Omitted optional fields take
// their defaults.
func (r *habitRequest) habit(ownerID int64) *models.Habit {
	h := &models.Habit{UserID: ownerID, PeriodicityDays: models.MinPeriodicityDays}
	p := habitPatch{
		Place:           r.Place,
		TimeOfDay:       r.TimeOfDay,
		Action:          r.Action,
		IsPleasant:      r.IsPleasant,
		LinkedHabitID:   r.LinkedHabitID,
		PeriodicityDays: r.PeriodicityDays,
		Reward:          r.Reward,
		DurationSeconds: r.DurationSeconds,
		IsPublic:        r.IsPublic,
	}
	p.apply(h)
	return h
}

func normalizeReward(reward *string) *string {
	if reward == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*reward)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type completeRequest struct {
	WasSuccessful *bool   `json:"was_successful"`
	Notes         *string `json:"notes" validate:"omitempty,max=1000"`
}

type habitResponse struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user"`
	UserEmail       string    `json:"user_email"`
	Place           string    `json:"place"`
	TimeOfDay       string    `json:"time_of_day"`
	Action          string    `json:"action"`
	IsPleasant      bool      `json:"is_pleasant"`
	LinkedHabitID   *int64    `json:"linked_habit_id"`
	PeriodicityDays int       `json:"periodicity_days"`
	Reward          *string   `json:"reward"`
	DurationSeconds int       `json:"duration_seconds"`
	IsPublic        bool      `json:"is_public"`
	CreatedAt       time.Time `json:"created_at"`
	IsOwner         bool      `json:"is_owner"`
}

func newHabitResponse(h *models.Habit, viewerID int64) habitResponse {
	resp := habitResponse{
		ID:              h.ID,
		UserID:          h.UserID,
		Place:           h.Place,
		TimeOfDay:       h.TimeOfDay,
		Action:          h.Action,
		IsPleasant:      h.IsPleasant,
		LinkedHabitID:   h.LinkedHabitID,
		PeriodicityDays: h.PeriodicityDays,
		Reward:          h.Reward,
		DurationSeconds: h.DurationSeconds,
		IsPublic:        h.IsPublic,
		CreatedAt:       h.CreatedAt,
		IsOwner:         h.UserID == viewerID,
	}
	if h.User != nil {
		resp.UserEmail = h.User.Email
	}
	return resp
}

type linkedHabitInfo struct {
	ID              int64  `json:"id"`
	Action          string `json:"action"`
	DurationSeconds int    `json:"duration_seconds"`
}

type habitDetailResponse struct {
	habitResponse
	LinkedHabitInfo  *linkedHabitInfo `json:"linked_habit_info"`
	CompletionsCount int              `json:"completions_count"`
}

type publicHabitResponse struct {
	ID              int64     `json:"id"`
	UserEmail       string    `json:"user_email"`
	Place           string    `json:"place"`
	TimeOfDay       string    `json:"time_of_day"`
	Action          string    `json:"action"`
	DurationSeconds int       `json:"duration_seconds"`
	IsPublic        bool      `json:"is_public"`
	CreatedAt       time.Time `json:"created_at"`
}

func newPublicHabitResponse(h *models.Habit) publicHabitResponse {
	resp := publicHabitResponse{
		ID:              h.ID,
		Place:           h.Place,
		TimeOfDay:       h.TimeOfDay,
		Action:          h.Action,
		DurationSeconds: h.DurationSeconds,
		IsPublic:        h.IsPublic,
		CreatedAt:       h.CreatedAt,
	}
	if h.User != nil {
		resp.UserEmail = h.User.Email
	}
	return resp
}

type completionResponse struct {
	ID            int64     `json:"id"`
	HabitID       int64     `json:"habit"`
	HabitAction   string    `json:"habit_action"`
	CompletedAt   time.Time `json:"completed_at"`
	WasSuccessful bool      `json:"was_successful"`
	Notes         *string   `json:"notes"`
}

func newCompletionResponse(c *models.HabitCompletion, action string) completionResponse {
	return completionResponse{
		ID:            c.ID,
		HabitID:       c.HabitID,
		HabitAction:   action,
		CompletedAt:   c.CompletedAt,
		WasSuccessful: c.WasSuccessful,
		Notes:         c.Notes,
	}
}

// lookupFor resolves links among the candidate owner's habits. A habit linked
// to itself is judged by its own candidate state.
func (h *Handler) lookupFor(candidate *models.Habit) validation.Lookup {
	owned := h.habits.OwnerLookup(candidate.UserID)
	return validation.LookupFunc(func(ctx context.Context, id int64) (bool, error) {
		if candidate.ID != 0 && id == candidate.ID {
			return candidate.IsPleasant, nil
		}
		return owned.IsPleasant(ctx, id)
	})
}

// visibleHabit loads a habit the caller owns or that is public.
func (h *Handler) visibleHabit(c *gin.Context, viewerID int64) (*models.Habit, bool) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	habit, err := h.habits.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if habit.UserID != viewerID && !habit.IsPublic {
		h.fail(c, apperror.ErrNotFound)
		return nil, false
	}
	return habit, true
}

// ownedHabit loads a habit for writing. Visible habits of other users are
// forbidden; invisible ones do not exist.
func (h *Handler) ownedHabit(c *gin.Context, viewerID int64) (*models.Habit, bool) {
	habit, ok := h.visibleHabit(c, viewerID)
	if !ok {
		return nil, false
	}
	if habit.UserID != viewerID {
		h.fail(c, apperror.ErrForbidden)
		return nil, false
	}
	return habit, true
}

// privateHabit loads a habit only its owner may see the history of.
func (h *Handler) privateHabit(c *gin.Context, viewerID int64) (*models.Habit, bool) {
	habit, ok := h.visibleHabit(c, viewerID)
	if !ok {
		return nil, false
	}
	if habit.UserID != viewerID {
		h.fail(c, apperror.ErrNotFound)
		return nil, false
	}
	return habit, true
}

func (h *Handler) listHabits(c *gin.Context, f habitrepo.ListFilter) {
	claims, _ := currentClaims(c)
	page, size, err := h.pageParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Page, f.PageSize = page, size

	result, err := h.habits.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	var viewerID int64
	if claims != nil {
		viewerID = claims.UserID
	}
	resp, err := paginate(result, func(habit *models.Habit) habitResponse {
		return newHabitResponse(habit, viewerID)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListHabits lists the caller's habits, optionally filtered by is_pleasant
// and is_public.
func (h *Handler) ListHabits(c *gin.Context) {
	claims, _ := currentClaims(c)
	pleasant, err := queryBool(c, "is_pleasant")
	if err != nil {
		h.fail(c, err)
		return
	}
	public, err := queryBool(c, "is_public")
	if err != nil {
		h.fail(c, err)
		return
	}
	h.listHabits(c, habitrepo.ListFilter{OwnerID: &claims.UserID, IsPleasant: pleasant, IsPublic: public})
}

func (h *Handler) MyHabits(c *gin.Context) {
	claims, _ := currentClaims(c)
	h.listHabits(c, habitrepo.ListFilter{OwnerID: &claims.UserID})
}

// TodayHabits lists the caller's habits in the order they come up during the day.
func (h *Handler) TodayHabits(c *gin.Context) {
	claims, _ := currentClaims(c)
	h.listHabits(c, habitrepo.ListFilter{OwnerID: &claims.UserID, Order: habitrepo.OrderByTime})
}

func (h *Handler) PleasantHabits(c *gin.Context) {
	claims, _ := currentClaims(c)
	pleasant := true
	h.listHabits(c, habitrepo.ListFilter{OwnerID: &claims.UserID, IsPleasant: &pleasant})
}

// PublicHabits lists every public habit, newest first. No login required.
func (h *Handler) PublicHabits(c *gin.Context) {
	page, size, err := h.pageParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	public := true
	result, err := h.habits.List(c.Request.Context(), habitrepo.ListFilter{
		IsPublic: &public,
		Order:    habitrepo.OrderNewest,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	resp, err := paginate(result, newPublicHabitResponse)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	var req habitRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	habit := req.habit(claims.UserID)
	if err := h.rules.Validate(ctx, validation.FromHabit(habit), h.lookupFor(habit)); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.habits.Create(ctx, habit); err != nil {
		h.fail(c, err)
		return
	}

	h.log.Info("habit created", zap.Int64("habit_id", habit.ID), zap.Int64("user_id", claims.UserID))
	h.respondHabit(c, http.StatusCreated, habit.ID, claims.UserID)
}

func (h *Handler) GetHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	habit, ok := h.visibleHabit(c, claims.UserID)
	if !ok {
		return
	}

	count, err := h.habits.CountCompletions(c.Request.Context(), habit.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := habitDetailResponse{
		habitResponse:    newHabitResponse(habit, claims.UserID),
		CompletionsCount: count,
	}
	// a private linked habit stays hidden from other viewers
	if linked := habit.LinkedHabit; linked != nil && (resp.IsOwner || linked.IsPublic) {
		resp.LinkedHabitInfo = &linkedHabitInfo{
			ID:              habit.LinkedHabit.ID,
			Action:          habit.LinkedHabit.Action,
			DurationSeconds: habit.LinkedHabit.DurationSeconds,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ReplaceHabit overwrites every editable field. Omitted optional fields are
// reset to their defaults.
func (h *Handler) ReplaceHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	existing, ok := h.ownedHabit(c, claims.UserID)
	if !ok {
		return
	}
	var req habitRequest
	if !h.bind(c, &req) {
		return
	}

	candidate := req.habit(claims.UserID)
	candidate.ID = existing.ID
	candidate.CreatedAt = existing.CreatedAt
	h.saveHabit(c, candidate, validation.FromHabit(candidate), claims.UserID)
}

// PatchHabit updates the given fields. The rules see the stored habit with
// the patch applied.
func (h *Handler) PatchHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	existing, ok := h.ownedHabit(c, claims.UserID)
	if !ok {
		return
	}
	patch, ok := h.bindPatch(c)
	if !ok {
		return
	}

	candidate := *existing
	candidate.User, candidate.LinkedHabit = nil, nil
	if patch.clearLink {
		candidate.LinkedHabitID = nil
	}
	if patch.clearReward {
		candidate.Reward = nil
	}
	fields := validation.Merge(&candidate, patch.fields())
	patch.apply(&candidate)
	h.saveHabit(c, &candidate, fields, claims.UserID)
}

func (h *Handler) saveHabit(c *gin.Context, candidate *models.Habit, fields validation.Fields, viewerID int64) {
	ctx := c.Request.Context()
	if err := h.rules.Validate(ctx, fields, h.lookupFor(candidate)); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.rules.ValidateReferrers(ctx, candidate.ID, fields, h.habits); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.habits.Update(ctx, candidate); err != nil {
		h.fail(c, err)
		return
	}
	h.respondHabit(c, http.StatusOK, candidate.ID, viewerID)
}

func (h *Handler) respondHabit(c *gin.Context, status int, id, viewerID int64) {
	stored, err := h.habits.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, newHabitResponse(stored, viewerID))
}

// bindPatch decodes a partial update, noting which clearable fields were
// explicitly null.
func (h *Handler) bindPatch(c *gin.Context) (*habitPatch, bool) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, apperror.ErrInvalidPayload)
		return nil, false
	}
	var patch habitPatch
	var present map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		h.log.Debug("decode request", zap.Error(err))
		h.fail(c, apperror.ErrInvalidPayload)
		return nil, false
	}
	if err := json.Unmarshal(body, &present); err != nil {
		h.fail(c, apperror.ErrInvalidPayload)
		return nil, false
	}
	patch.clearLink = isNull(present, "linked_habit_id")
	patch.clearReward = isNull(present, "reward")

	if err := h.validate.Struct(&patch); err != nil {
		h.fail(c, err)
		return nil, false
	}
	return &patch, true
}

func isNull(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (h *Handler) DeleteHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	habit, ok := h.ownedHabit(c, claims.UserID)
	if !ok {
		return
	}
	if err := h.habits.Delete(c.Request.Context(), habit.ID); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("habit deleted", zap.Int64("habit_id", habit.ID), zap.Int64("user_id", claims.UserID))
	c.Status(http.StatusNoContent)
}

// CompleteHabit records a completion. The body is optional; a completion is
// successful unless stated otherwise.
func (h *Handler) CompleteHabit(c *gin.Context) {
	claims, _ := currentClaims(c)
	habit, ok := h.privateHabit(c, claims.UserID)
	if !ok {
		return
	}

	var req completeRequest
	if c.Request.ContentLength != 0 {
		if !h.bind(c, &req) {
			return
		}
	}
	successful := true
	if req.WasSuccessful != nil {
		successful = *req.WasSuccessful
	}

	completion, err := h.habits.Complete(c.Request.Context(), habit.ID, successful, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCompletionResponse(completion, habit.Action))
}

func (h *Handler) Completions(c *gin.Context) {
	claims, _ := currentClaims(c)
	habit, ok := h.privateHabit(c, claims.UserID)
	if !ok {
		return
	}
	page, size, err := h.pageParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.habits.ListCompletions(c.Request.Context(), habit.ID, page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp, err := paginate(result, func(completion *models.HabitCompletion) completionResponse {
		return newCompletionResponse(completion, habit.Action)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stats summarizes the caller's habits. Days are taken in the configured zone.
func (h *Handler) Stats(c *gin.Context) {
	claims, _ := currentClaims(c)
	stats, err := h.habits.Stats(c.Request.Context(), claims.UserID, h.now().In(h.loc))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
