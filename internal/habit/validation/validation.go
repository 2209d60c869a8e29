// Package validation checks the cross-field rules a habit must satisfy before
// it is written. Column constraints only cover type and presence; everything
// that relates one field to another lives here.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"habitTracker/internal/habit/models"
)

// Category identifies which rule rejected a habit.
type Category string

const (
	CategoryConflictingRewardAndLink Category = "conflicting_reward_and_link"
	CategoryPleasantHasReward        Category = "pleasant_has_reward"
	CategoryPleasantHasLink          Category = "pleasant_has_link"
	CategoryPeriodicityTooInfrequent Category = "periodicity_too_infrequent"
	CategoryPeriodicityNonpositive   Category = "periodicity_nonpositive"
	CategoryDurationTooLong          Category = "duration_too_long"
	CategoryDurationNonpositive      Category = "duration_nonpositive"
	CategoryLinkedHabitNotPleasant   Category = "linked_habit_not_pleasant"
	CategoryLinkedHabitNotFound      Category = "linked_habit_not_found"
)

// ErrHabitNotFound is returned by a Lookup for a dangling reference.
var ErrHabitNotFound = errors.New("validation: linked habit not found")

// Error is a rule rejection. It is user-correctable.
type Error struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// AsError reports whether err is a rule rejection and returns it.
func AsError(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Lookup resolves a linked habit reference to its pleasant flag.
type Lookup interface {
	IsPleasant(ctx context.Context, habitID int64) (bool, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, habitID int64) (bool, error)

func (f LookupFunc) IsPleasant(ctx context.Context, habitID int64) (bool, error) {
	return f(ctx, habitID)
}

// Referrers reports whether other habits link to a habit.
type Referrers interface {
	IsLinked(ctx context.Context, habitID int64) (bool, error)
}

// Fields is the candidate set of values under validation. A nil field is absent.
type Fields struct {
	Reward          *string
	LinkedHabitID   *int64
	IsPleasant      *bool
	PeriodicityDays *int
	DurationSeconds *int
}

func (f Fields) hasReward() bool {
	return f.Reward != nil && strings.TrimSpace(*f.Reward) != ""
}

func (f Fields) pleasant() bool {
	return f.IsPleasant != nil && *f.IsPleasant
}

// FromHabit returns the full field set of a stored or candidate habit.
func FromHabit(h *models.Habit) Fields {
	pleasant := h.IsPleasant
	periodicity := h.PeriodicityDays
	duration := h.DurationSeconds
	return Fields{
		Reward:          h.Reward,
		LinkedHabitID:   h.LinkedHabitID,
		IsPleasant:      &pleasant,
		PeriodicityDays: &periodicity,
		DurationSeconds: &duration,
	}
}

// Merge overlays patch on the stored habit's fields. Updates are validated
// against the merged view so omitted fields keep taking part in the rules.
func Merge(existing *models.Habit, patch Fields) Fields {
	merged := FromHabit(existing)
	if patch.Reward != nil {
		merged.Reward = patch.Reward
	}
	if patch.LinkedHabitID != nil {
		merged.LinkedHabitID = patch.LinkedHabitID
	}
	if patch.IsPleasant != nil {
		merged.IsPleasant = patch.IsPleasant
	}
	if patch.PeriodicityDays != nil {
		merged.PeriodicityDays = patch.PeriodicityDays
	}
	if patch.DurationSeconds != nil {
		merged.DurationSeconds = patch.DurationSeconds
	}
	return merged
}

// Validator applies the habit rules. The zero value is ready to use and safe
// for concurrent use.
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

// Validate applies the rules in a fixed order and returns the first failure.
// The lookup is only consulted once every local rule has passed.
func (v *Validator) Validate(ctx context.Context, f Fields, lookup Lookup) error {
	if f.hasReward() && f.LinkedHabitID != nil {
		return reject(CategoryConflictingRewardAndLink,
			"a habit cannot have both a reward and a linked habit; choose one")
	}
	if f.pleasant() && f.hasReward() {
		return reject(CategoryPleasantHasReward, "a pleasant habit cannot have a reward")
	}
	if f.pleasant() && f.LinkedHabitID != nil {
		return reject(CategoryPleasantHasLink, "a pleasant habit cannot have a linked habit")
	}
	if f.PeriodicityDays != nil {
		if *f.PeriodicityDays > models.MaxPeriodicityDays {
			return reject(CategoryPeriodicityTooInfrequent,
				fmt.Sprintf("a habit cannot be performed less than once every %d days", models.MaxPeriodicityDays))
		}
		if *f.PeriodicityDays < models.MinPeriodicityDays {
			return reject(CategoryPeriodicityNonpositive, "periodicity must be a positive number of days")
		}
	}
	if f.DurationSeconds != nil {
		if *f.DurationSeconds > models.MaxDurationSeconds {
			return reject(CategoryDurationTooLong,
				fmt.Sprintf("duration must not exceed %d seconds", models.MaxDurationSeconds))
		}
		if *f.DurationSeconds < models.MinDurationSeconds {
			return reject(CategoryDurationNonpositive, "duration must be a positive number of seconds")
		}
	}
	if f.LinkedHabitID != nil {
		if lookup == nil {
			return errors.New("validation: linked habit given without a lookup")
		}
		pleasant, err := lookup.IsPleasant(ctx, *f.LinkedHabitID)
		if errors.Is(err, ErrHabitNotFound) {
			return reject(CategoryLinkedHabitNotFound,
				fmt.Sprintf("linked habit %d does not exist", *f.LinkedHabitID))
		}
		if err != nil {
			return fmt.Errorf("resolve linked habit %d: %w", *f.LinkedHabitID, err)
		}
		if !pleasant {
			return reject(CategoryLinkedHabitNotPleasant, "the linked habit must be a pleasant habit")
		}
	}
	return nil
}

// ValidateReferrers rejects turning a stored habit unpleasant while other
// habits still link to it.
func (v *Validator) ValidateReferrers(ctx context.Context, habitID int64, f Fields, refs Referrers) error {
	if f.IsPleasant == nil || *f.IsPleasant {
		return nil
	}
	linked, err := refs.IsLinked(ctx, habitID)
	if err != nil {
		return fmt.Errorf("check habits linking to %d: %w", habitID, err)
	}
	if linked {
		return reject(CategoryLinkedHabitNotPleasant,
			"other habits link to this habit, so it must stay pleasant")
	}
	return nil
}

func reject(c Category, msg string) *Error {
	return &Error{Category: c, Message: msg}
}
