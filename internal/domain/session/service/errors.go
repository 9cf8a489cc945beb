// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package service

import (
	"errors"

	"github.com/recfleet/recfleet/internal/domain/session/store"
)

// Error kinds the REST layer maps to status codes. Store-level kinds are
// re-exported so callers depend on one package only.
var (
	ErrNotFound      = store.ErrNotFound
	ErrConflict      = store.ErrConflict
	ErrAlreadyExists = store.ErrAlreadyExists

	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)
