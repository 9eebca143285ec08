package session

import (
	"errors"

	"github.com/jason-s-yu/sipsync/internal/network"
)

var (
	// ErrConnectTimeout is returned by Client.Start when the host does not answer in time.
	ErrConnectTimeout = network.ErrConnectTimeout

	// ErrConnectError is returned by Client.Start when the host is unreachable or refuses.
	ErrConnectError = network.ErrConnectError

	// ErrPrecondition rejects a local action before anything is sent, e.g.
	// an Individual rule without a target player.
	ErrPrecondition = errors.New("session: precondition failed")

	// ErrNotConnected is returned by client actions that need the host.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyRunning is returned when starting a session that is already up.
	ErrAlreadyRunning = errors.New("session: already running")
)
