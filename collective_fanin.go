package mtcl

import "fmt"

// fanInGeneric implements FAN-IN over a vector of point-to-point handles
// (§4.6.2), grounded on FanInGeneric in
// original_source/collectives/collectiveImpl.hpp: the root round-robins
// non-blocking probes across its participants, remembers which handle a
// pending frame came from, and requires receive to drain that same handle
// before selecting another.
type fanInGeneric struct {
	isRoot bool
	peers  []*Handle // root only, shrinks as participants signal EOS
	single *Handle   // non-root only

	hasProbed bool
	probedIdx int
}

func (f *fanInGeneric) probe(blocking bool) (int, error) {
	if !f.isRoot {
		return 0, roleErr(KindFanIn, "probe", false)
	}
	if f.hasProbed {
		return f.peers[f.probedIdx].Probe(true)
	}
	for {
		if len(f.peers) == 0 {
			return 0, nil
		}
		for i := 0; i < len(f.peers); i++ {
			size, err := f.peers[i].Probe(false)
			if err != nil {
				if Kind(err) == KindWouldBlock {
					continue
				}
				return 0, err
			}
			if size == 0 {
				f.peers[i].Close(false, true)
				f.peers = append(f.peers[:i], f.peers[i+1:]...)
				i--
				continue
			}
			f.hasProbed = true
			f.probedIdx = i
			return size, nil
		}
		if !blocking {
			return 0, ErrWouldBlock
		}
	}
}

func (f *fanInGeneric) receive(buf []byte) (int, error) {
	if !f.isRoot {
		return 0, roleErr(KindFanIn, "receive", false)
	}
	if _, err := f.probe(true); err != nil {
		return 0, err
	}
	if len(f.peers) == 0 {
		return 0, nil
	}
	idx := f.probedIdx
	n, err := f.peers[idx].Receive(buf)
	f.hasProbed = false
	if err != nil {
		return 0, err
	}
	if n == 0 {
		f.peers[idx].Close(false, true)
		f.peers = append(f.peers[:idx], f.peers[idx+1:]...)
	}
	return n, nil
}

func (f *fanInGeneric) send(payload []byte) error {
	if f.isRoot {
		return roleErr(KindFanIn, "send", true)
	}
	return f.single.Send(payload)
}

func (f *fanInGeneric) close() error {
	if f.isRoot {
		if len(f.peers) != 0 {
			return fmt.Errorf("mtcl: fan-in root close before all peers closed: %w", ErrInvalidState)
		}
		return nil
	}
	f.single.Close(true, false)
	return nil
}
