package entity

import "errors"

// Domain errors for the inbox
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotPinnable          = errors.New("only active direct conversations can be pinned")
	ErrNotAcceptable        = errors.New("only pending direct conversations can be accepted")
	ErrOwnRequest           = errors.New("cannot accept a request you sent")
	ErrSessionClosed        = errors.New("inbox session is closed")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrUserRequired         = errors.New("user id is required")
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrMergePassFailed      = errors.New("merge pass failed")
	ErrMutationConflict     = errors.New("mutation target no longer exists")
)
