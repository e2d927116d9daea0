package mtcl

import "fmt"

// broadcastGeneric implements BROADCAST over a vector of point-to-point
// handles (§4.6.1), grounded on BroadcastGeneric in
// original_source/collectives/collectiveImpl.hpp: the root writes every
// payload to each peer handle in order; a non-root defers probe/receive
// to its single handle to the root.
type broadcastGeneric struct {
	isRoot bool
	peers  []*Handle // root: size-1 peers. non-root: exactly one handle at index 0.
}

func (b *broadcastGeneric) send(payload []byte) error {
	if !b.isRoot {
		return roleErr(KindBroadcast, "send", false)
	}
	for _, h := range b.peers {
		if err := h.Send(payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *broadcastGeneric) probe(blocking bool) (int, error) {
	if b.isRoot {
		return 0, roleErr(KindBroadcast, "probe", true)
	}
	if len(b.peers) == 0 {
		return 0, nil
	}
	return b.peers[0].Probe(blocking)
}

func (b *broadcastGeneric) receive(buf []byte) (int, error) {
	if b.isRoot {
		return 0, roleErr(KindBroadcast, "receive", true)
	}
	if len(b.peers) == 0 {
		return 0, nil
	}
	n, err := b.peers[0].Receive(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		b.peers = nil
	}
	return n, nil
}

func (b *broadcastGeneric) close() error {
	if b.isRoot {
		for _, h := range b.peers {
			h.Close(true, false)
		}
		b.peers = nil
		return nil
	}
	if len(b.peers) != 0 {
		return fmt.Errorf("mtcl: non-root broadcast close before EOS observed: %w", ErrInvalidState)
	}
	return nil
}
