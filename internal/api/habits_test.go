package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drinkWater() map[string]any {
	return map[string]any{
		"place":            "Home",
		"time_of_day":      "08:00",
		"action":           "Drink a glass of water",
		"duration_seconds": 30,
		"reward":           "Coffee",
		"is_public":        true,
	}
}

func takeBath() map[string]any {
	return map[string]any{
		"place":            "Home",
		"time_of_day":      "21:00",
		"action":           "Take a bath",
		"duration_seconds": 120,
		"is_pleasant":      true,
	}
}

func (s *testServer) createHabit(token string, body map[string]any) habitResponse {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/habits/", token, body)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[habitResponse](s.t, w)
}

func TestCreateHabit(t *testing.T) {
	s := newTestServer(t)
	u, token := s.user("ann@example.com", false)

	body := drinkWater()
	body["time_of_day"] = "8:00:00"
	body["reward"] = "  Coffee  "
	got := s.createHabit(token, body)

	assert.NotZero(t, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "ann@example.com", got.UserEmail)
	assert.Equal(t, "08:00", got.TimeOfDay)
	assert.Equal(t, 1, got.PeriodicityDays)
	require.NotNil(t, got.Reward)
	assert.Equal(t, "Coffee", *got.Reward)
	assert.True(t, got.IsOwner)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateHabit_FieldErrors(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)

	w := s.do(http.MethodPost, "/api/habits/", token, map[string]any{"place": "Home"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"errors":[
		{"time_of_day":"is required"},
		{"action":"is required"},
		{"duration_seconds":"is required"}
	]}`, w.Body.String())

	body := drinkWater()
	body["time_of_day"] = "25:99"
	w = s.do(http.MethodPost, "/api/habits/", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"errors":[{"time_of_day":"must be a time of day in HH:MM format"}]}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/habits/", token, `{"place": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request payload"}`, w.Body.String())
}

func TestCreateHabit_Rules(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)

	bath := s.createHabit(token, takeBath())
	walk := drinkWater()
	delete(walk, "reward")
	walk["action"] = "Walk"
	notPleasant := s.createHabit(token, walk)
	foreignBath := s.createHabit(otherToken, takeBath())

	tests := []struct {
		name   string
		modify func(map[string]any)
		want   string
	}{
		{"reward and link", func(b map[string]any) { b["linked_habit_id"] = bath.ID }, "conflicting_reward_and_link"},
		{"pleasant with reward", func(b map[string]any) { b["is_pleasant"] = true }, "pleasant_has_reward"},
		{"pleasant with link", func(b map[string]any) {
			delete(b, "reward")
			b["is_pleasant"] = true
			b["linked_habit_id"] = bath.ID
		}, "pleasant_has_link"},
		{"periodicity too infrequent", func(b map[string]any) { b["periodicity_days"] = 10 }, "periodicity_too_infrequent"},
		{"periodicity zero", func(b map[string]any) { b["periodicity_days"] = 0 }, "periodicity_nonpositive"},
		{"duration too long", func(b map[string]any) { b["duration_seconds"] = 121 }, "duration_too_long"},
		{"duration zero", func(b map[string]any) { b["duration_seconds"] = 0 }, "duration_nonpositive"},
		{"link not pleasant", func(b map[string]any) {
			delete(b, "reward")
			b["linked_habit_id"] = notPleasant.ID
		}, "linked_habit_not_pleasant"},
		{"link to another user's habit", func(b map[string]any) {
			delete(b, "reward")
			b["linked_habit_id"] = foreignBath.ID
		}, "linked_habit_not_found"},
		{"link dangling", func(b map[string]any) {
			delete(b, "reward")
			b["linked_habit_id"] = 999
		}, "linked_habit_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := drinkWater()
			tt.modify(body)
			w := s.do(http.MethodPost, "/api/habits/", token, body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.want, decode[map[string]string](t, w)["category"])
		})
	}

	body := drinkWater()
	delete(body, "reward")
	body["linked_habit_id"] = bath.ID
	linked := s.createHabit(token, body)
	require.NotNil(t, linked.LinkedHabitID)
	assert.Equal(t, bath.ID, *linked.LinkedHabitID)
}

func TestListHabits_Pagination(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)
	for i := 0; i < 6; i++ {
		body := drinkWater()
		body["time_of_day"] = fmt.Sprintf("0%d:00", 9-i)
		s.createHabit(token, body)
	}
	s.createHabit(otherToken, drinkWater())

	w := s.do(http.MethodGet, "/api/habits/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[struct {
		Count    int             `json:"count"`
		Next     *int            `json:"next"`
		Previous *int            `json:"previous"`
		Results  []habitResponse `json:"results"`
	}](t, w)
	assert.Equal(t, 6, first.Count)
	require.NotNil(t, first.Next)
	assert.Equal(t, 2, *first.Next)
	assert.Nil(t, first.Previous)
	require.Len(t, first.Results, 5)
	assert.Equal(t, "04:00", first.Results[0].TimeOfDay, "ordered by time of day")

	w = s.do(http.MethodGet, "/api/habits/?page=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[pageResponse](t, w)
	assert.Nil(t, second.Next)
	require.NotNil(t, second.Previous)
	assert.Equal(t, 1, *second.Previous)
	assert.Len(t, second.Results, 1)

	w = s.do(http.MethodGet, "/api/habits/?page_size=100", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[pageResponse](t, w).Results, 6)

	for _, page := range []string{"3", "0", "abc"} {
		w = s.do(http.MethodGet, "/api/habits/?page="+page, token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, page)
		assert.JSONEq(t, `{"error":"invalid page"}`, w.Body.String())
	}
}

func TestListHabits_EmptyFirstPage(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)

	w := s.do(http.MethodGet, "/api/habits", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0,"next":null,"previous":null,"results":[]}`, w.Body.String())
}

func TestListHabits_Filters(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	s.createHabit(token, drinkWater())
	s.createHabit(token, takeBath())

	w := s.do(http.MethodGet, "/api/habits/?is_pleasant=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[pageResponse](t, w).Count)

	w = s.do(http.MethodGet, "/api/habits/?is_public=false", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[pageResponse](t, w).Count)

	w = s.do(http.MethodGet, "/api/habits/pleasant/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[pageResponse](t, w).Count)

	for _, path := range []string{"/api/habits/my/", "/api/habits/today/"} {
		w = s.do(http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, 2, decode[pageResponse](t, w).Count, path)
	}

	w = s.do(http.MethodGet, "/api/habits/?is_pleasant=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"is_pleasant must be true or false"}`, w.Body.String())
}

func TestPublicHabits(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	first := s.createHabit(token, drinkWater())
	s.createHabit(token, takeBath())
	second := drinkWater()
	second["action"] = "Stretch"
	last := s.createHabit(token, second)

	w := s.do(http.MethodGet, "/api/habits/public/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Count   int                   `json:"count"`
		Results []publicHabitResponse `json:"results"`
	}](t, w)
	assert.Equal(t, 2, page.Count)
	require.Len(t, page.Results, 2)
	assert.Equal(t, last.ID, page.Results[0].ID, "newest first")
	assert.Equal(t, first.ID, page.Results[1].ID)
	assert.Equal(t, "ann@example.com", page.Results[0].UserEmail)
	assert.NotContains(t, w.Body.String(), "reward")
}

func TestGetHabit(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)

	bath := s.createHabit(token, takeBath())
	body := drinkWater()
	delete(body, "reward")
	body["linked_habit_id"] = bath.ID
	walk := s.createHabit(token, body)
	w := s.do(http.MethodPost, fmt.Sprintf("/api/habits/%d/complete/", walk.ID), token, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", walk.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[habitDetailResponse](t, w)
	assert.True(t, detail.IsOwner)
	assert.Equal(t, 1, detail.CompletionsCount)
	require.NotNil(t, detail.LinkedHabitInfo)
	assert.Equal(t, linkedHabitInfo{ID: bath.ID, Action: "Take a bath", DurationSeconds: 120}, *detail.LinkedHabitInfo)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d", walk.ID), otherToken, nil)
	require.Equal(t, http.StatusOK, w.Code, "public habits are visible")
	other := decode[habitDetailResponse](t, w)
	assert.False(t, other.IsOwner)
	assert.Nil(t, other.LinkedHabitInfo, "the linked habit is private")

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d/", bath.ID), token, map[string]any{"is_public": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", walk.ID), otherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, decode[habitDetailResponse](t, w).LinkedHabitInfo)
	w = s.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d/", bath.ID), token, map[string]any{"is_public": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", bath.ID), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "private habits are hidden")

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", bath.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"linked_habit_info":null`)

	for _, path := range []string{"/api/habits/999/", "/api/habits/abc/"} {
		w = s.do(http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestPatchHabit(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)
	drink := s.createHabit(token, drinkWater())
	bath := s.createHabit(token, takeBath())
	path := fmt.Sprintf("/api/habits/%d/", drink.ID)

	w := s.do(http.MethodPatch, path, token, map[string]any{"duration_seconds": 60, "time_of_day": "07:30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[habitResponse](t, w)
	assert.Equal(t, 60, got.DurationSeconds)
	assert.Equal(t, "07:30", got.TimeOfDay)
	assert.Equal(t, "Drink a glass of water", got.Action)
	require.NotNil(t, got.Reward)

	// The stored reward still counts.
	w = s.do(http.MethodPatch, path, token, map[string]any{"is_pleasant": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "pleasant_has_reward", decode[map[string]string](t, w)["category"])

	w = s.do(http.MethodPatch, path, token, map[string]any{"linked_habit_id": bath.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "conflicting_reward_and_link", decode[map[string]string](t, w)["category"])

	w = s.do(http.MethodPatch, path, token, map[string]any{"linked_habit_id": bath.ID, "reward": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decode[habitResponse](t, w)
	assert.Nil(t, got.Reward)
	require.NotNil(t, got.LinkedHabitID)
	assert.Equal(t, bath.ID, *got.LinkedHabitID)

	w = s.do(http.MethodPatch, path, token, map[string]any{"linked_habit_id": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode[habitResponse](t, w).LinkedHabitID)

	w = s.do(http.MethodPatch, path, token, map[string]any{"periodicity_days": 8})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "periodicity_too_infrequent", decode[map[string]string](t, w)["category"])

	w = s.do(http.MethodPatch, path, otherToken, map[string]any{"duration_seconds": 10})
	assert.Equal(t, http.StatusForbidden, w.Code, "public but not owned")

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d/", bath.ID), otherToken, map[string]any{"duration_seconds": 10})
	assert.Equal(t, http.StatusNotFound, w.Code, "private and not owned")
}

func TestPatchHabit_SelfLink(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	bath := s.createHabit(token, takeBath())

	w := s.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d/", bath.ID), token, map[string]any{
		"is_pleasant":     false,
		"linked_habit_id": bath.ID,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "linked_habit_not_pleasant", decode[map[string]string](t, w)["category"])
}

func TestUpdateHabit_LinkedHabitStaysPleasant(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	bath := s.createHabit(token, takeBath())
	body := drinkWater()
	delete(body, "reward")
	body["linked_habit_id"] = bath.ID
	drink := s.createHabit(token, body)

	path := fmt.Sprintf("/api/habits/%d/", bath.ID)
	w := s.do(http.MethodPatch, path, token, map[string]any{"is_pleasant": false})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "linked_habit_not_pleasant", decode[map[string]string](t, w)["category"])

	replaced := takeBath()
	replaced["is_pleasant"] = false
	w = s.do(http.MethodPut, path, token, replaced)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "linked_habit_not_pleasant", decode[map[string]string](t, w)["category"])

	stored, err := s.habits.Get(context.Background(), bath.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPleasant)

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d/", drink.ID), token, map[string]any{"linked_habit_id": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPatch, path, token, map[string]any{"is_pleasant": false})
	assert.Equal(t, http.StatusOK, w.Code, "nothing links to it any more")
}

func TestCreateHabit_ActionLength(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)

	body := drinkWater()
	body["action"] = strings.Repeat("a", 500)
	s.createHabit(token, body)

	body["action"] = strings.Repeat("a", 501)
	w := s.do(http.MethodPost, "/api/habits/", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"action"`)
}

func TestReplaceHabit(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	drink := s.createHabit(token, drinkWater())
	path := fmt.Sprintf("/api/habits/%d/", drink.ID)

	w := s.do(http.MethodPut, path, token, map[string]any{"place": "Office"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `{"action":"is required"}`)

	w = s.do(http.MethodPut, path, token, map[string]any{
		"place":            "Office",
		"time_of_day":      "10:15",
		"action":           "Stretch",
		"duration_seconds": 45,
		"periodicity_days": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[habitResponse](t, w)
	assert.Equal(t, drink.ID, got.ID)
	assert.Equal(t, "Office", got.Place)
	assert.Equal(t, 2, got.PeriodicityDays)
	assert.Nil(t, got.Reward, "omitted fields are reset")
	assert.False(t, got.IsPublic)
	assert.True(t, drink.CreatedAt.Equal(got.CreatedAt))
}

func TestDeleteHabit(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)
	bath := s.createHabit(token, takeBath())
	body := drinkWater()
	delete(body, "reward")
	body["linked_habit_id"] = bath.ID
	walk := s.createHabit(token, body)

	w := s.do(http.MethodDelete, fmt.Sprintf("/api/habits/%d/", walk.ID), otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/habits/%d/", bath.ID), token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", bath.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/", walk.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[habitDetailResponse](t, w).LinkedHabitID, "links to a deleted habit are cleared")
}

func TestCompleteHabit(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	_, otherToken := s.user("bob@example.com", false)
	drink := s.createHabit(token, drinkWater())
	path := fmt.Sprintf("/api/habits/%d/complete/", drink.ID)

	w := s.do(http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	done := decode[completionResponse](t, w)
	assert.Equal(t, drink.ID, done.HabitID)
	assert.Equal(t, "Drink a glass of water", done.HabitAction)
	assert.True(t, done.WasSuccessful)
	assert.Nil(t, done.Notes)

	w = s.do(http.MethodPost, path, token, map[string]any{"was_successful": false, "notes": "forgot"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	missed := decode[completionResponse](t, w)
	assert.False(t, missed.WasSuccessful)
	require.NotNil(t, missed.Notes)
	assert.Equal(t, "forgot", *missed.Notes)

	w = s.do(http.MethodPost, path, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "only the owner completes a habit")

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/completions/", drink.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Count   int                  `json:"count"`
		Results []completionResponse `json:"results"`
	}](t, w)
	assert.Equal(t, 2, history.Count)
	require.Len(t, history.Results, 2)
	assert.Equal(t, missed.ID, history.Results[0].ID, "newest first")

	w = s.do(http.MethodGet, fmt.Sprintf("/api/habits/%d/completions/", drink.ID), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("ann@example.com", false)
	drink := s.createHabit(token, drinkWater())
	s.createHabit(token, takeBath())

	path := fmt.Sprintf("/api/habits/%d/complete/", drink.ID)
	for _, ok := range []bool{true, true, false} {
		w := s.do(http.MethodPost, path, token, map[string]any{"was_successful": ok})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodGet, "/api/habits/stats/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"total_habits": 2,
		"completed_today": 3,
		"completed_this_week": 3,
		"success_rate": 66.7,
		"public_habits": 1,
		"pleasant_habits": 1
	}`, w.Body.String())
}
