package session

import (
	"context"
	"errors"
	"io"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/netx"
	"github.com/Fides-Storage/Server-sub000/internal/protocol"
)

// reply is a response plus, for successful reads, the content that follows.
type reply struct {
	resp   protocol.Response
	stream func(ctx context.Context, w io.Writer) error
	close  bool
}

func ok() reply { return reply{resp: protocol.OK()} }

func fail(msg string) reply { return reply{resp: protocol.Fail(msg)} }

// handler serves one request. content is non-nil for actions whose request
// carries a content stream; whatever the handler leaves unread is drained by
// the caller before the reply is written.
type handler func(s *Session, ctx context.Context, req *protocol.Request, content io.Reader) reply

var unauthenticatedHandlers = map[protocol.Action]handler{
	protocol.ActionUnknown:       (*Session).invalidAction,
	protocol.ActionCreateUser:    (*Session).createUser,
	protocol.ActionLogin:         (*Session).login,
	protocol.ActionDisconnect:    (*Session).disconnect,
	protocol.ActionGetKeyFile:    (*Session).notLoggedIn,
	protocol.ActionUpdateKeyFile: (*Session).notLoggedIn,
	protocol.ActionGetFile:       (*Session).notLoggedIn,
	protocol.ActionUpdateFile:    (*Session).notLoggedIn,
	protocol.ActionUploadFile:    (*Session).notLoggedIn,
	protocol.ActionRemoveFile:    (*Session).notLoggedIn,
}

var authenticatedHandlers = map[protocol.Action]handler{
	protocol.ActionUnknown:       (*Session).invalidAction,
	protocol.ActionCreateUser:    (*Session).alreadyLoggedIn,
	protocol.ActionLogin:         (*Session).alreadyLoggedIn,
	protocol.ActionDisconnect:    (*Session).disconnect,
	protocol.ActionGetKeyFile:    (*Session).getKeyFile,
	protocol.ActionUpdateKeyFile: (*Session).updateKeyFile,
	protocol.ActionGetFile:       (*Session).getFile,
	protocol.ActionUpdateFile:    (*Session).updateFile,
	protocol.ActionUploadFile:    (*Session).uploadFile,
	protocol.ActionRemoveFile:    (*Session).removeFile,
}

func handlerFor(state State, action protocol.Action) handler {
	var table map[protocol.Action]handler
	switch state {
	case StateUnauthenticated:
		table = unauthenticatedHandlers
	case StateAuthenticated:
		table = authenticatedHandlers
	}
	h, found := table[action]
	if !found {
		return (*Session).invalidAction
	}
	if state == StateAuthenticated && action.RequiresLocation() {
		return requireLocation(h)
	}
	return h
}

// requireLocation rejects requests that do not name a file before next runs.
func requireLocation(next handler) handler {
	return func(s *Session, ctx context.Context, req *protocol.Request, content io.Reader) reply {
		if req.Location == "" {
			return fail(protocol.MsgNoLocation)
		}
		return next(s, ctx, req, content)
	}
}

func (s *Session) invalidAction(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	return fail(protocol.MsgInvalidAction)
}

func (s *Session) notLoggedIn(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	return fail(protocol.MsgNotLoggedIn)
}

func (s *Session) alreadyLoggedIn(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	return fail(protocol.MsgAlreadyLoggedIn)
}

// disconnect releases the lock before acknowledging, so a client that saw
// the reply can log in again at once.
func (s *Session) disconnect(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	s.release(ctx)
	rep := ok()
	rep.close = true
	return rep
}

func (s *Session) createUser(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	if req.Username == "" || req.CredentialHash == "" {
		return fail(protocol.MsgMissingCredentials)
	}
	err := s.users.Register(ctx, req.Username, req.CredentialHash)
	switch {
	case err == nil:
		s.logger.Info(ctx, "account created")
		return ok()
	case errors.Is(err, common.ErrorAlreadyExists):
		return fail(protocol.MsgUserExists)
	case errors.Is(err, common.ErrorValidation):
		return fail(protocol.MsgMissingCredentials)
	}
	s.logger.Error(ctx, "create user failed", "error", err)
	return fail(protocol.MsgInternal)
}

func (s *Session) login(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	if req.Username == "" || req.CredentialHash == "" {
		return fail(protocol.MsgMissingCredentials)
	}
	b, err := s.users.Login(ctx, req.Username, req.CredentialHash)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorUnauthorized):
		s.logger.Info(ctx, "login rejected")
		return fail(protocol.MsgInvalidCredentials)
	case errors.Is(err, common.ErrorLocked):
		s.logger.Info(ctx, "login rejected, account busy")
		return fail(protocol.MsgServerBusy)
	case errors.Is(err, common.ErrorValidation):
		return fail(protocol.MsgMissingCredentials)
	default:
		s.logger.Error(ctx, "login failed", "error", err)
		return fail(protocol.MsgInternal)
	}
	s.binding = b
	s.state = StateAuthenticated
	s.logger = s.logger.With("account_id", b.Account.ID)
	s.logger.Info(ctx, "logged in")
	return ok()
}

func (s *Session) getKeyFile(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	acct := s.binding.Account
	if err := s.files.Touch(ctx, acct); err != nil {
		return s.fileFailure(ctx, "get key file", err)
	}
	rep := ok()
	rep.stream = func(ctx context.Context, w io.Writer) error {
		_, err := s.files.ReadKeyFile(ctx, acct, w)
		return err
	}
	return rep
}

func (s *Session) updateKeyFile(ctx context.Context, req *protocol.Request, content io.Reader) reply {
	if err := s.files.UpdateKeyFile(ctx, s.binding.Account, content); err != nil {
		return s.fileFailure(ctx, "update key file", err)
	}
	return ok()
}

func (s *Session) getFile(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	acct := s.binding.Account
	if err := s.files.Locate(ctx, acct, req.Location); err != nil {
		return s.fileFailure(ctx, "get file", err)
	}
	loc := req.Location
	rep := ok()
	rep.stream = func(ctx context.Context, w io.Writer) error {
		_, err := s.files.Read(ctx, acct, loc, w)
		return err
	}
	return rep
}

func (s *Session) updateFile(ctx context.Context, req *protocol.Request, content io.Reader) reply {
	if err := s.files.Update(ctx, s.binding.Account, req.Location, content); err != nil {
		return s.fileFailure(ctx, "update file", err)
	}
	return ok()
}

func (s *Session) uploadFile(ctx context.Context, req *protocol.Request, content io.Reader) reply {
	id, err := s.files.Upload(ctx, s.binding.Account, content)
	if err != nil {
		return s.fileFailure(ctx, "upload file", err)
	}
	s.logger.Debug(ctx, "file uploaded", "blob_id", id)
	rep := ok()
	rep.resp.Location = id
	return rep
}

func (s *Session) removeFile(ctx context.Context, req *protocol.Request, _ io.Reader) reply {
	if err := s.files.Remove(ctx, s.binding.Account, req.Location); err != nil {
		return s.fileFailure(ctx, "remove file", err)
	}
	return ok()
}

// fileFailure maps a file action error to its client message. Storage
// faults are logged with detail and reported as an internal error.
func (s *Session) fileFailure(ctx context.Context, op string, err error) reply {
	switch {
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrorInvalidID):
		return fail(protocol.MsgFileNotFound)
	case errors.Is(err, common.ErrorQuotaExceeded):
		s.logger.Info(ctx, op+" rejected, quota exceeded")
		return fail(protocol.MsgQuotaExceeded)
	case netx.IsDisconnect(err):
		s.logger.Debug(ctx, op+" interrupted", "error", err)
		return fail(protocol.MsgInternal)
	}
	s.logger.Error(ctx, op+" failed", "error", err)
	return fail(protocol.MsgInternal)
}
