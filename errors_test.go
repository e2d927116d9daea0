package mtcl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindWrapsSentinels(t *testing.T) {
	wrapped := fmt.Errorf("mtcl: connect 127.0.0.1:1: %w", ErrTimeout)
	assert.Equal(t, KindTimeout, Kind(wrapped))
	assert.True(t, errors.Is(wrapped, ErrTimeout))
}

func TestKindUnknownForForeignErrors(t *testing.T) {
	assert.Equal(t, KindUnknown, Kind(errors.New("not ours")))
	assert.Equal(t, KindUnknown, Kind(nil))
}

func TestKindEveryExportedSentinel(t *testing.T) {
	cases := map[error]ErrorKind{
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
	for err, kind := range cases {
		assert.Equal(t, kind, Kind(err), "for %v", err)
	}
}
