package services

import apperrors "synthpanel/internal/errors"

// Panel service errors. Both map onto problem responses through their
// AppError type.
var (
	ErrTargetsNotLoaded = apperrors.NewNotFoundError("target table")
	ErrEmptySelection   = apperrors.NewAppValidationError("no regions or periods selected")
)
