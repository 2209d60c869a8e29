package api

import (
	"errors"
	"net/http"
	"strconv"

	"habitTracker/internal/apperror"
	habitrepo "habitTracker/internal/habit/repository"
	"habitTracker/internal/habit/validation"
	userrepo "habitTracker/internal/user/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// fail writes the response for err. Unknown errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error) {
	if verr, ok := validation.AsError(err); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, verr)
		return
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": apperror.CustomValidationError(err)})
		return
	}
	if appErr, ok := apperror.As(err); ok {
		abort(c, appErr)
		return
	}
	if errors.Is(err, habitrepo.ErrNotFound) || errors.Is(err, userrepo.ErrNotFound) {
		abort(c, apperror.ErrNotFound)
		return
	}

	h.log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// fieldError answers 400 with a single field message.
func fieldError(c *gin.Context, field, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": []map[string]string{{field: msg}}})
}

// bind decodes the JSON body into req and applies its field rules.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.log.Debug("decode request", zap.Error(err))
		h.fail(c, apperror.ErrInvalidPayload)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.log.Debug("request failed validation", zap.Error(err))
		h.fail(c, err)
		return false
	}
	return true
}

type pageResponse struct {
	Count    int  `json:"count"`
	Next     *int `json:"next"`
	Previous *int `json:"previous"`
	Results  any  `json:"results"`
}

// pageParams reads page and page_size. A page that is not a positive number is
// an invalid page; a bad page_size falls back to the default.
func (h *Handler) pageParams(c *gin.Context) (int, int, error) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			return 0, 0, apperror.ErrInvalidPage
		}
		page = p
	}
	size := h.pageSize
	if raw := c.Query("page_size"); raw != "" {
		if s, err := strconv.Atoi(raw); err == nil && s > 0 {
			size = s
		}
	}
	return page, size, nil
}

// paginate renders p with each item converted by conv. Pages past the end
// other than the first are rejected.
func paginate[T, R any](p habitrepo.Page[T], conv func(*T) R) (pageResponse, error) {
	if p.Page > 1 && len(p.Items) == 0 {
		return pageResponse{}, apperror.ErrInvalidPage
	}
	results := make([]R, 0, len(p.Items))
	for i := range p.Items {
		results = append(results, conv(&p.Items[i]))
	}
	resp := pageResponse{Count: p.Count, Results: results}
	if p.HasNext() {
		next := p.Page + 1
		resp.Next = &next
	}
	if p.HasPrevious() {
		prev := p.Page - 1
		resp.Previous = &prev
	}
	return resp, nil
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.ErrNotFound
	}
	return id, nil
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperror.New(http.StatusBadRequest, key+" must be true or false")
	}
	return &v, nil
}
