package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
)
