package domain

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrInvalidModality = errors.New("invalid modality")
	ErrInvalidProfile  = errors.New("invalid watchlist profile")
	ErrInvalidOptions  = errors.New("invalid analyze options")
	ErrInvalidIdentity = errors.New("rate limit identity is required")
	ErrInvalidCost     = errors.New("rate limit cost must be positive")
)
