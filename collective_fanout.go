package mtcl

import "fmt"

// fanOutGeneric implements FAN-OUT over a vector of point-to-point
// handles (§4.6.3), grounded on FanOutGeneric in
// original_source/collectives/collectiveImpl.hpp: the root keeps a
// rotating cursor and sends each message to the cursor's current peer,
// advancing modulo the peer count. A non-root behaves like broadcast
// non-root.
type fanOutGeneric struct {
	isRoot  bool
	peers   []*Handle // root only
	current int
	single  *Handle // non-root only
}

func (f *fanOutGeneric) send(payload []byte) error {
	if !f.isRoot {
		return roleErr(KindFanOut, "send", false)
	}
	if len(f.peers) == 0 {
		return fmt.Errorf("mtcl: fan-out root has no peers left: %w", ErrInvalidState)
	}
	h := f.peers[f.current]
	if err := h.Send(payload); err != nil {
		return err
	}
	f.current = (f.current + 1) % len(f.peers)
	return nil
}

func (f *fanOutGeneric) probe(blocking bool) (int, error) {
	if f.isRoot {
		return 0, roleErr(KindFanOut, "probe", true)
	}
	if f.single == nil {
		return 0, nil
	}
	return f.single.Probe(blocking)
}

func (f *fanOutGeneric) receive(buf []byte) (int, error) {
	if f.isRoot {
		return 0, roleErr(KindFanOut, "receive", true)
	}
	if f.single == nil {
		return 0, nil
	}
	n, err := f.single.Receive(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		f.single = nil
	}
	return n, nil
}

func (f *fanOutGeneric) close() error {
	if f.isRoot {
		for _, h := range f.peers {
			h.Close(true, false)
		}
		f.peers = nil
		return nil
	}
	if f.single != nil {
		return fmt.Errorf("mtcl: non-root fan-out close before EOS observed: %w", ErrInvalidState)
	}
	return nil
}
