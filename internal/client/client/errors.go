package client

import (
	"errors"

	"github.com/Fides-Storage/Server-sub000/internal/protocol"
)

var (
	ErrUnavailable   = errors.New("server unavailable")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBusy          = errors.New("account in use by another session")
	ErrUserExists    = errors.New("user already exists")
	ErrNotFound      = errors.New("file not found")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrNotLoggedIn   = errors.New("not logged in")
)

var sentinels = map[string]error{
	protocol.MsgInvalidCredentials: ErrUnauthorized,
	protocol.MsgServerBusy:         ErrBusy,
	protocol.MsgUserExists:         ErrUserExists,
	protocol.MsgFileNotFound:       ErrNotFound,
	protocol.MsgQuotaExceeded:      ErrQuotaExceeded,
	protocol.MsgNotLoggedIn:        ErrNotLoggedIn,
}

// ServerError is an unsuccessful response.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

func (e *ServerError) Is(target error) bool {
	return sentinels[e.Message] == target
}
