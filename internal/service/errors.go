package service

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrSelfChat             = errors.New("cannot start a chat with yourself")
	ErrInvalidMessage       = errors.New("invalid message payload")
	ErrInternalServer       = errors.New("internal server error")
)
