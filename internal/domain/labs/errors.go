package labs

import (
	"errors"

	apperr "github.com/yungbote/labreport-backend/internal/pkg/errors"
)

var (
	ErrNotFound = apperr.ErrNotFound
	// ErrTerminal is returned when a write targets a run that already finished.
	ErrTerminal = errors.New("lab report already terminal")
	// ErrInvalidTransition is returned for a status write that would move a run backwards.
	ErrInvalidTransition = errors.New("invalid lab report status transition")
)
