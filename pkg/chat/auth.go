package chat

import (
	"errors"
	"fmt"

	"github.com/aeolun/linechat/pkg/protocol"
)

// AuthState is a step of the username/password exchange
type AuthState uint8

const (
	StateAwaitingAddress AuthState = iota
	StateAwaitingUsername
	StateCheckingLockout
	StateAwaitingPassword
	StateVerifying
	StateAuthenticated
	StateRejected
)

func (st AuthState) String() string {
	switch st {
	case StateAwaitingAddress:
		return "awaiting-address"
	case StateAwaitingUsername:
		return "awaiting-username"
	case StateCheckingLockout:
		return "checking-lockout"
	case StateAwaitingPassword:
		return "awaiting-password"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("AuthState(%d)", uint8(st))
}

// Authenticator drives the login exchange of one session.
//
// The client is prompted for a username and password until it either
// verifies, or fails MaxAuthAttempts times in a row with the same username.
// Switching to a different username restarts the count for that username
// after checking that it is not locked out from this address.
type Authenticator struct {
	hub     *Hub
	sess    *Session
	state   AuthState
	address string
}

// NewAuthenticator prepares the exchange for sess
func NewAuthenticator(hub *Hub, sess *Session) *Authenticator {
	return &Authenticator{
		hub:   hub,
		sess:  sess,
		state: StateAwaitingAddress,
	}
}

// State returns the current step
func (a *Authenticator) State() AuthState {
	return a.state
}

// Address returns the resolved client address ("" until the first
// username has been read).
func (a *Authenticator) Address() string {
	return a.address
}

// Authenticate runs the exchange. On success the session is registered
// under its username and any queued offline messages are returned. On
// failure the error wraps one of ErrLocked, ErrTooManyFailures,
// ErrAlreadyConnected or ErrStreamClosed, and the client has been told why
// (except for a closed stream).
func (a *Authenticator) Authenticate() ([]string, error) {
	username, err := a.prompt(StateAwaitingUsername, protocol.PromptUsername)
	if err != nil {
		return nil, err
	}

	// Resolved once, after the first username
	a.address = a.hub.cfg.ResolveAddress(a.sess.conn.RemoteAddr())
	debugLog.Printf("Auth: connection from %s tried username %q", a.address, username)

	if err := a.checkLockout(username); err != nil {
		return nil, err
	}

	failures := 0
	lastUsername := username
	for {
		password, err := a.prompt(StateAwaitingPassword, protocol.PromptPassword)
		if err != nil {
			return nil, err
		}

		a.state = StateVerifying
		if a.hub.creds.Verify(username, password) {
			break
		}

		failures++
		debugLog.Printf("Auth: %s failed for %q (%d/%d)", a.address, username, failures, a.hub.cfg.MaxAuthAttempts)
		if failures >= a.hub.cfg.MaxAuthAttempts {
			return nil, a.lockOut(username)
		}
		a.sess.send(protocol.CredentialsFailed)

		username, err = a.prompt(StateAwaitingUsername, protocol.PromptUsername)
		if err != nil {
			return nil, err
		}
		if username != lastUsername {
			if err := a.checkLockout(username); err != nil {
				return nil, err
			}
			failures = 0
			lastUsername = username
		}
	}

	return a.register(username)
}

// prompt writes a prompt and reads the reply
func (a *Authenticator) prompt(state AuthState, prompt string) (string, error) {
	a.state = state
	if err := a.sess.send(prompt); err != nil {
		a.state = StateRejected
		return "", fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	line, err := a.sess.conn.ReadLine()
	if err != nil {
		a.state = StateRejected
		return "", fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return line, nil
}

func (a *Authenticator) checkLockout(username string) error {
	a.state = StateCheckingLockout
	if !a.hub.guard.IsLocked(a.address, username) {
		return nil
	}
	a.state = StateRejected
	debugLog.Printf("Auth: %q is still locked out at %s", username, a.address)
	a.sess.send(protocol.LockedOut(username, a.address))
	return fmt.Errorf("%w: %s at %s", ErrLocked, username, a.address)
}

func (a *Authenticator) lockOut(username string) error {
	a.state = StateRejected
	a.hub.guard.RecordFailure(a.address, username)
	a.hub.metrics.RecordLockout()
	debugLog.Printf("Auth: locking %q at %s for %s", username, a.address, a.hub.guard.Duration())
	a.sess.send(protocol.TooManyFailures(a.hub.guard.Duration())...)
	return fmt.Errorf("%w: %s at %s", ErrTooManyFailures, username, a.address)
}

// register connects the verified user and claims its offline queue
func (a *Authenticator) register(username string) ([]string, error) {
	a.sess.username = username

	offline, err := a.hub.mailbox.ClaimOnConnect(username, func() error {
		return a.hub.registry.Connect(username, a.sess)
	})
	if err != nil {
		a.state = StateRejected
		if errors.Is(err, ErrAlreadyConnected) {
			a.sess.send(protocol.AlreadyConnected(username)...)
		}
		return nil, err
	}

	a.hub.recent.Record(username)
	a.state = StateAuthenticated
	debugLog.Printf("Auth: %q connected from %s", username, a.address)
	return offline, nil
}

// authResultLabel maps an Authenticate error to its metrics label
func authResultLabel(err error) string {
	switch {
	case err == nil:
		return AuthSuccess
	case errors.Is(err, ErrLocked):
		return AuthLocked
	case errors.Is(err, ErrTooManyFailures):
		return AuthTooManyFailures
	case errors.Is(err, ErrAlreadyConnected):
		return AuthAlreadyConnected
	}
	return AuthStreamClosed
}
