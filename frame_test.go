package mtcl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	payload := []byte("hello world")
	frame := EncodeFrame(payload)
	require.Len(t, frame, FrameHeaderSize+len(payload))
	assert.Equal(t, uint64(len(payload)), DecodeHeader(frame[:FrameHeaderSize]))
	assert.Equal(t, payload, frame[FrameHeaderSize:])
}

func TestEncodeFrameEmptyIsEOS(t *testing.T) {
	frame := EncodeFrame(nil)
	assert.Equal(t, uint64(0), DecodeHeader(frame))
	assert.Equal(t, eosFrame, frame)
}

func TestBuildFrameMatchesEncodeFrame(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("abc123")
	BuildFrame(&buf, payload)
	assert.Equal(t, EncodeFrame(payload), buf.Bytes())
}
