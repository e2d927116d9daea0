package mtcl

import "errors"

// ErrorKind classifies a runtime error into the taxonomy callers can switch
// on without resorting to string matching or errors.Is chains.
type ErrorKind int

const (
	// KindUnknown is returned by Kind() for errors not produced by this package.
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindUnknownScheme
	KindWouldBlock
	KindMessageTooLarge
	KindUnreachable
	KindTimeout
	KindPeerReset
	KindEndOfStream
	KindInvalidState
	KindInvalidOp
	KindIOError
)

var (
	// ErrInvalidArgument marks a malformed address, nil buffer, or a
	// participant list shorter than two entries.
	ErrInvalidArgument = errors.New("mtcl: invalid argument")
	// ErrUnknownScheme marks an address whose scheme has no registered driver.
	ErrUnknownScheme = errors.New("mtcl: unknown scheme")
	// ErrWouldBlock marks a non-blocking operation that had nothing ready.
	ErrWouldBlock = errors.New("mtcl: would block")
	// ErrMessageTooLarge marks a receive buffer smaller than the pending frame.
	ErrMessageTooLarge = errors.New("mtcl: message too large for buffer")
	// ErrUnreachable marks a connect attempt that exhausted its retry budget
	// without ever reaching the peer.
	ErrUnreachable = errors.New("mtcl: peer unreachable")
	// ErrTimeout marks a connect attempt that exceeded its deadline.
	ErrTimeout = errors.New("mtcl: operation timed out")
	// ErrPeerReset marks an abrupt close detected by the transport.
	ErrPeerReset = errors.New("mtcl: connection reset by peer")
	// ErrEndOfStream marks an orderly close (size-0 frame).
	ErrEndOfStream = errors.New("mtcl: end of stream")
	// ErrInvalidState marks an operation issued out of the protocol's allowed order.
	ErrInvalidState = errors.New("mtcl: invalid state")
	// ErrInvalidOp marks a role-mismatched collective operation (e.g. a
	// non-root sending on a BROADCAST team).
	ErrInvalidOp = errors.New("mtcl: invalid operation for this role")
	// ErrIOError is the catch-all for transport failures not covered above.
	ErrIOError = errors.New("mtcl: io error")
	// ErrNotInitialized is returned when a Manager method other than Init is
	// called before Init, or after Finalize.
	ErrNotInitialized = errors.New("mtcl: manager not initialized")
	// ErrAlreadyFinalized is returned by a second call to Finalize.
	ErrAlreadyFinalized = errors.New("mtcl: manager already finalized")
)

var kindOf = map[error]ErrorKind{
	ErrInvalidArgument: KindInvalidArgument,
	ErrUnknownScheme:   KindUnknownScheme,
	ErrWouldBlock:      KindWouldBlock,
	ErrMessageTooLarge: KindMessageTooLarge,
	ErrUnreachable:     KindUnreachable,
	ErrTimeout:         KindTimeout,
	ErrPeerReset:       KindPeerReset,
	ErrEndOfStream:     KindEndOfStream,
	ErrInvalidState:    KindInvalidState,
	ErrInvalidOp:       KindInvalidOp,
	ErrIOError:         KindIOError,
}

// Kind classifies err against the taxonomy of §7. It walks the error chain
// with errors.Is, so a wrapped sentinel (fmt.Errorf("...: %w", ErrTimeout))
// still reports correctly.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}
