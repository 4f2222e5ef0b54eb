package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Fehlerklassen der Merge- und Explorer-Operationen. Aufrufer prüfen mit errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrStorage        = errors.New("storage failure")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// storageErr ordnet einen Datenbankfehler einer Fehlerklasse zu. Bereits klassifizierte
// Fehler werden durchgereicht, ein fehlender Datensatz wird zu ErrNotFound.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrConflict), errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}
