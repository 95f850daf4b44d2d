package campaign

import (
	"errors"
	"fmt"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Sentinel errors for the campaign runner.
var (
	ErrPersistence    = errors.New("campaign: outcome could not be recorded")
	ErrCampaignLocked = errors.New("campaign: another run holds the campaign lock")
	ErrInvalidRun     = errors.New("campaign: invalid run")
)

// ValidationError rejects a run before any recipient is processed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrInvalidRun.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRun }

// PersistenceError halts a run. Outcome is the delivery result that could
// not be stored; it is still part of the returned CampaignResult.
type PersistenceError struct {
	Outcome domain.DeliveryOutcome
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: recipient %s (%s): %v", ErrPersistence, e.Outcome.RecipientID, e.Outcome.Status, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
