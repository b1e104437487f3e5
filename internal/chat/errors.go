package chat

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("session not found")
	// ErrTransient marks store timeouts and connectivity failures. The caller
	// decides whether to retry; the service never does.
	ErrTransient = errors.New("session store unavailable")

	errDefaultReplySent = errors.New("default reply already sent")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify maps a gorm/driver error onto the package taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrTransient),
		errors.Is(err, errDefaultReplySent):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		// timeouts, cancellations and driver failures alike
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
}
