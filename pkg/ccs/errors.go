package ccs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionRefused is returned by Dial when the interpreter server's
	// greeting carries the refusal marker.
	ErrConnectionRefused = errors.New("ccs: connection refused by interpreter server")

	// ErrSessionClosed is returned when a command is issued on a session
	// whose socket is gone.
	ErrSessionClosed = errors.New("ccs: session closed")
)

// CommError reports a fatal socket failure on an established connection.
// There is no retry at this layer; the session is unusable afterwards.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("ccs: communication failure during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// RemoteFaultError carries the interpreter output lines that matched the
// remote exception signature. A command that produced faults still completed
// locally; callers decide whether to escalate.
type RemoteFaultError struct {
	Faults []string
}

func (e *RemoteFaultError) Error() string {
	return fmt.Sprintf("ccs: remote exceptions raised:\n%s", strings.Join(e.Faults, "\n"))
}
