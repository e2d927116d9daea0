package mtcl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchQueueFIFO(t *testing.T) {
	q := newDispatchQueue()
	h1 := &Handle{}
	h2 := &Handle{}
	q.push(dispatchEvent{isNew: true, handle: h1})
	q.push(dispatchEvent{isNew: false, handle: h2})

	ev, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, h1, ev.handle)
	assert.True(t, ev.isNew)

	ev, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, h2, ev.handle)
	assert.False(t, ev.isNew)
}

func TestDispatchQueuePopBlocksUntilPush(t *testing.T) {
	q := newDispatchQueue()
	h := &Handle{}
	done := make(chan dispatchEvent, 1)
	go func() {
		ev, ok := q.pop()
		if ok {
			done <- ev
		}
	}()

	select {
	case <-done:
		t.Fatal("pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.push(dispatchEvent{handle: h})
	select {
	case ev := <-done:
		assert.Same(t, h, ev.handle)
	case <-time.After(time.Second):
		t.Fatal("pop never woke after push")
	}
}

func TestDispatchQueueFinishUnblocksPop(t *testing.T) {
	q := newDispatchQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.finish()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("finish did not unblock pop")
	}
}

func TestDispatchQueuePushAfterFinishIsDropped(t *testing.T) {
	q := newDispatchQueue()
	q.finish()
	q.push(dispatchEvent{handle: &Handle{}})
	ev, ok := q.pop()
	assert.False(t, ok)
	assert.Nil(t, ev.handle)
}
