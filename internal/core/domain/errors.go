package domain

import "errors"

var (
	ErrStoreUnavailable = errors.New("directory store unavailable")
	ErrPathInvalid      = errors.New("invalid directory path")
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidName      = errors.New("room name must not be empty")
	ErrCredentialFetch  = errors.New("credential fetch failed")
	ErrAudioSession     = errors.New("audio session failed")
	ErrAlreadyTerminal  = errors.New("session already terminal")
)
