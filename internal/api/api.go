// Package api serves the habit tracker REST API.
package api

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"habitTracker/internal/auth"
	"habitTracker/internal/habit/models"
	habitrepo "habitTracker/internal/habit/repository"
	"habitTracker/internal/habit/validation"
	userrepo "habitTracker/internal/user/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TimeOfDayValidator accepts HH:MM and HH:MM:SS clock times.
var TimeOfDayValidator = func(fl validator.FieldLevel) bool {
	_, ok := ParseTimeOfDay(fl.Field().String())
	return ok
}

// ParseTimeOfDay normalizes a clock time to HH:MM.
func ParseTimeOfDay(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{models.TimeOfDayLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(models.TimeOfDayLayout), true
		}
	}
	return "", false
}

// NewValidator returns the request validator. Field errors are reported under
// their json names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("timeofday", TimeOfDayValidator)
	return v
}

// Options tunes listing and date handling.
type Options struct {
	PageSize int
	Location *time.Location
}

type Handler struct {
	log      *zap.Logger
	users    *userrepo.Repository
	habits   *habitrepo.Repository
	rules    *validation.Validator
	issuer   *auth.Issuer
	validate *validator.Validate
	pageSize int
	loc      *time.Location
	now      func() time.Time
}

func New(log *zap.Logger, users *userrepo.Repository, habits *habitrepo.Repository, issuer *auth.Issuer, v *validator.Validate, opts Options) *Handler {
	if opts.PageSize < 1 {
		opts.PageSize = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		log:      log,
		users:    users,
		habits:   habits,
		rules:    validation.New(),
		issuer:   issuer,
		validate: v,
		pageSize: opts.PageSize,
		loc:      opts.Location,
		now:      time.Now,
	}
}

// Router builds the gin engine with every route registered. Paths answer
// with and without a trailing slash.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(RequestLogger(h.log), gin.CustomRecovery(func(c *gin.Context, rec any) {
		h.log.Error("panic serving request", zap.Any("panic", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	route(api, http.MethodGet, "", h.Index)
	route(api, http.MethodPost, "/users/register", h.Register)
	route(api, http.MethodPost, "/users/login", h.Login)
	route(api, http.MethodPost, "/token", h.Login)
	route(api, http.MethodPost, "/token/refresh", h.Refresh)
	route(api, http.MethodGet, "/habits/public", h.PublicHabits)

	authed := api.Group("", Authenticate(h.issuer))
	route(authed, http.MethodGet, "/users/profile", h.Profile)
	route(authed, http.MethodPatch, "/users/profile", h.UpdateProfile)
	route(authed, http.MethodPut, "/users/profile", h.UpdateProfile)
	route(authed, http.MethodGet, "/users/list", RequireStaff(), h.ListUsers)
	route(authed, http.MethodPost, "/users/connect-telegram", h.ConnectTelegram)

	route(authed, http.MethodGet, "/habits", h.ListHabits)
	route(authed, http.MethodPost, "/habits", h.CreateHabit)
	route(authed, http.MethodGet, "/habits/my", h.MyHabits)
	route(authed, http.MethodGet, "/habits/today", h.TodayHabits)
	route(authed, http.MethodGet, "/habits/pleasant", h.PleasantHabits)
	route(authed, http.MethodGet, "/habits/stats", h.Stats)
	route(authed, http.MethodGet, "/habits/:id", h.GetHabit)
	route(authed, http.MethodPut, "/habits/:id", h.ReplaceHabit)
	route(authed, http.MethodPatch, "/habits/:id", h.PatchHabit)
	route(authed, http.MethodDelete, "/habits/:id", h.DeleteHabit)
	route(authed, http.MethodPost, "/habits/:id/complete", h.CompleteHabit)
	route(authed, http.MethodGet, "/habits/:id/completions", h.Completions)

	return r
}

func route(g *gin.RouterGroup, method, path string, handlers ...gin.HandlerFunc) {
	g.Handle(method, path, handlers...)
	g.Handle(method, path+"/", handlers...)
}

// Healthz is a simple health check endpoint.
func (h *Handler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Index describes the service and its main endpoints.
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Habit Tracker API",
		"version":     "1.0.0",
		"description": "Track small habits, pair them with pleasant ones and get Telegram reminders.",
		"endpoints": gin.H{
			"authentication": gin.H{
				"register":      "/api/users/register/",
				"login":         "/api/users/login/",
				"token":         "/api/token/",
				"token_refresh": "/api/token/refresh/",
			},
			"habits": gin.H{
				"my_habits":      "/api/habits/",
				"public_habits":  "/api/habits/public/",
				"habit_detail":   "/api/habits/{id}/",
				"complete_habit": "/api/habits/{id}/complete/",
				"completions":    "/api/habits/{id}/completions/",
				"stats":          "/api/habits/stats/",
			},
			"users": gin.H{
				"profile":          "/api/users/profile/",
				"list":             "/api/users/list/",
				"connect_telegram": "/api/users/connect-telegram/",
			},
		},
	})
}
