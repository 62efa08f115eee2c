package studio

import "errors"

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrGenerationInFlight  = errors.New("generation in progress for this stage")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnsavedChanges      = errors.New("unsaved changes")
	ErrConfirmDiscard      = errors.New("discarding changes needs confirmation")
)
