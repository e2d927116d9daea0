package mtcl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptivePollBacksOffExponentiallyUpToSteady(t *testing.T) {
	p := NewAdaptivePoll(2*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 2*time.Millisecond, p.Cur)
	p.Sleep()
	assert.Equal(t, 4*time.Millisecond, p.Cur)
	p.Sleep()
	assert.Equal(t, 8*time.Millisecond, p.Cur)
	p.Sleep()
	assert.Equal(t, 10*time.Millisecond, p.Cur) // clamped to Steady
	p.Sleep()
	assert.Equal(t, 10*time.Millisecond, p.Cur)
}

func TestAdaptivePollResetSkipsNextSleep(t *testing.T) {
	p := NewAdaptivePoll(2*time.Millisecond, 10*time.Millisecond)
	p.Sleep()
	p.Reset()
	assert.Equal(t, 2*time.Millisecond, p.Cur)

	start := time.Now()
	p.Sleep()
	assert.Less(t, time.Since(start), time.Millisecond)
}

func TestNewAdaptivePollClampsInvalidInputs(t *testing.T) {
	p := NewAdaptivePoll(0, 5*time.Millisecond)
	assert.Equal(t, DefaultFastPoll, p.Fast)

	p = NewAdaptivePoll(10*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, p.Steady)
}

func TestNewAcceptPollDoesNotBackOff(t *testing.T) {
	p := NewAcceptPoll(2 * time.Millisecond)
	assert.Equal(t, 2*time.Millisecond, p.Cur)
	p.Sleep()
	assert.Equal(t, 2*time.Millisecond, p.Cur)
	p.Sleep()
	assert.Equal(t, 2*time.Millisecond, p.Cur)
}

func TestNewAcceptPollClampsInvalidInterval(t *testing.T) {
	p := NewAcceptPoll(0)
	assert.Equal(t, DefaultAcceptPoll, p.Cur)
}

func TestNewCollapsedPollDoesNotBackOff(t *testing.T) {
	p := NewCollapsedPoll(3 * time.Millisecond)
	p.Sleep()
	assert.Equal(t, 3*time.Millisecond, p.Cur)
}
