package util

import "errors"

var (
	ErrSessionNotFound    = errors.New("assessment session not found")
	ErrSessionCompleted   = errors.New("assessment session already completed")
	ErrSessionTerminated  = errors.New("assessment session was stopped for safety")
	ErrSessionPaused      = errors.New("assessment session is paused")
	ErrSessionBusy        = errors.New("assessment session is being updated, retry shortly")
	ErrInvalidTransition  = errors.New("invalid session status transition")
	ErrVersionConflict    = errors.New("session version conflict")
	ErrEmptyResponse      = errors.New("response text is required")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrUpstream           = errors.New("assessment service temporarily unavailable")
	ErrMalformedUpstream  = errors.New("malformed upstream output")
	ErrSpeechUnavailable  = errors.New("speech service not configured")
	ErrNoSpeechDetected   = errors.New("no speech detected")
	ErrAudioTooLong       = errors.New("audio clip too long")
	ErrUnsupportedStorage = errors.New("unsupported storage type")
)
