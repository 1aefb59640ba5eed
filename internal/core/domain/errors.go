package domain

import "errors"

var (
	// ErrStaleSample marks a write whose captured_at is not newer than the
	// stored sample. Dropped silently, never retried.
	ErrStaleSample = errors.New("stale sample")

	// ErrInvalidTarget marks a self-grant or an empty target user.
	ErrInvalidTarget = errors.New("invalid target user")

	ErrSampleNotFound     = errors.New("sample not found")
	ErrSharingDisabled    = errors.New("sharing disabled")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUserNotFound       = errors.New("user not found")
)
