package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrCycleInProgress = errors.New("a watch cycle is already running")
	ErrJobNotRunning   = errors.New("scrape job is not running")
)
