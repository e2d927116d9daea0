package mtcl

import (
	"encoding/binary"
	"fmt"
)

// CollectiveKind names the four collective algorithms of §4.6.
type CollectiveKind int

const (
	KindBroadcast CollectiveKind = iota
	KindFanIn
	KindFanOut
	KindGather
)

func (k CollectiveKind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindFanIn:
		return "fan-in"
	case KindFanOut:
		return "fan-out"
	case KindGather:
		return "gather"
	default:
		return "unknown"
	}
}

// collectiveImpl is the shared surface of the three non-gather generic
// implementations (C6): broadcastGeneric, fanInGeneric, fanOutGeneric.
type collectiveImpl interface {
	send(payload []byte) error
	probe(blocking bool) (int, error)
	receive(buf []byte) (int, error)
	close() error
}

// gatherImpl is gather's distinct surface: data moves via execute, not
// send/receive, per §4.6.4.
type gatherImpl interface {
	execute(localBuf, outBuf []byte, slotLen int) error
	close() error
}

// Collective is the user-facing wrapper binding a collective kind, this
// participant's role, and the underlying implementation (C7). Gather
// misuse (Send/Receive/Probe on a gather team, Execute on any other kind)
// is rejected here. The root/non-root checks of the other kinds are not
// made here: each implementation makes them, with ErrInvalidOp, before it
// touches any handle.
type Collective struct {
	Kind   CollectiveKind
	IsRoot bool
	Rank   int
	Size   int

	impl  collectiveImpl
	gimpl gatherImpl
}

func roleErr(kind CollectiveKind, op string, isRoot bool) error {
	role := "non-root"
	if isRoot {
		role = "root"
	}
	return fmt.Errorf("mtcl: %s may not %s on a %s team: %w", role, op, kind, ErrInvalidOp)
}

// Send is valid for BROADCAST (root), FAN-IN (non-root), FAN-OUT (root).
func (c *Collective) Send(payload []byte) error {
	if c.Kind == KindGather {
		return roleErr(c.Kind, "send", c.IsRoot)
	}
	return c.impl.send(payload)
}

// Receive is valid for BROADCAST (non-root), FAN-IN (root), FAN-OUT (non-root).
func (c *Collective) Receive(buf []byte) (int, error) {
	if c.Kind == KindGather {
		return 0, roleErr(c.Kind, "receive", c.IsRoot)
	}
	return c.impl.receive(buf)
}

// Probe reports the next frame's size wherever Receive is legal for this role.
func (c *Collective) Probe(blocking bool) (int, error) {
	if c.Kind == KindGather {
		return 0, roleErr(c.Kind, "probe", c.IsRoot)
	}
	return c.impl.probe(blocking)
}

// Execute performs the gather operation: at the root, fills outBuf with
// every participant's localBuf at offset rank*slotLen; at a non-root,
// sends localBuf to the root.
func (c *Collective) Execute(localBuf, outBuf []byte, slotLen int) error {
	if c.Kind != KindGather {
		return fmt.Errorf("mtcl: Execute is only valid on a gather team: %w", ErrInvalidOp)
	}
	return c.gimpl.execute(localBuf, outBuf, slotLen)
}

// Close ends the team's collective operation, emitting EOS per kind's
// close discipline.
func (c *Collective) Close() error {
	if c.Kind == KindGather {
		return c.gimpl.close()
	}
	return c.impl.close()
}

// ReduceInt64 accumulates int64 values received until EOS, folding each
// with fn. Valid only at a fan-in root; a thin convenience wrapper around
// the generic Receive loop, not a new protocol.
func (c *Collective) ReduceInt64(fn func(acc, v int64) int64) (int64, error) {
	if c.Kind != KindFanIn || !c.IsRoot {
		return 0, fmt.Errorf("mtcl: ReduceInt64 is only valid at a fan-in root: %w", ErrInvalidOp)
	}
	var acc int64
	var buf [8]byte
	for {
		n, err := c.Receive(buf[:])
		if err != nil {
			return acc, err
		}
		if n == 0 {
			return acc, nil
		}
		acc = fn(acc, int64(binary.BigEndian.Uint64(buf[:n])))
	}
}

func newCollective(kind CollectiveKind, isRoot bool, rank, size int, handles []*Handle) (*Collective, error) {
	c := &Collective{Kind: kind, IsRoot: isRoot, Rank: rank, Size: size}
	switch kind {
	case KindBroadcast:
		c.impl = &broadcastGeneric{isRoot: isRoot, peers: handles}
	case KindFanIn:
		impl := &fanInGeneric{isRoot: isRoot}
		if isRoot {
			impl.peers = handles
		} else {
			impl.single = handles[0]
		}
		c.impl = impl
	case KindFanOut:
		impl := &fanOutGeneric{isRoot: isRoot}
		if isRoot {
			impl.peers = handles
		} else {
			impl.single = handles[0]
		}
		c.impl = impl
	case KindGather:
		impl := &gatherGeneric{isRoot: isRoot, rank: rank}
		if isRoot {
			impl.peers = handles
		} else {
			impl.root = handles[0]
		}
		c.gimpl = impl
	default:
		return nil, fmt.Errorf("mtcl: unknown collective kind: %w", ErrInvalidArgument)
	}
	return c, nil
}
