package mtcl

import (
	"encoding/binary"
	"fmt"
)

// gatherGeneric implements GATHER over a vector of point-to-point handles
// (§4.6.4), grounded on GatherGeneric in
// original_source/collectives/collectiveImpl.hpp. Per §6.3's wire format,
// each participant's contribution is two framed messages: an 8-byte
// big-endian rank, then the slot payload.
type gatherGeneric struct {
	isRoot  bool
	rank    int
	peers   []*Handle // root only
	root    *Handle   // non-root only
	closing bool
}

func (g *gatherGeneric) execute(localBuf, outBuf []byte, slotLen int) error {
	if g.isRoot {
		return g.executeRoot(localBuf, outBuf, slotLen)
	}
	return g.executeNonRoot(localBuf)
}

// executeRoot requires every peer ready before proceeding (non-blocking
// probe of all handles), then drains a (rank, payload) pair from each in
// turn, placing payload at outBuf[rank*slotLen:]. Any peer EOS during the
// gather reports EOS for the whole operation, per §4.6.4.
func (g *gatherGeneric) executeRoot(localBuf, outBuf []byte, slotLen int) error {
	for _, h := range g.peers {
		if _, err := h.Probe(false); err != nil {
			if Kind(err) == KindWouldBlock {
				return ErrWouldBlock
			}
			return err
		}
	}
	for _, h := range g.peers {
		var rankBuf [8]byte
		n, err := h.Receive(rankBuf[:])
		if err != nil {
			return err
		}
		if n == 0 {
			g.closing = true
			return ErrEndOfStream
		}
		remoteRank := int(binary.BigEndian.Uint64(rankBuf[:]))
		if remoteRank < 0 || (remoteRank+1)*slotLen > len(outBuf) {
			return fmt.Errorf("mtcl: gather remote rank %d out of range: %w", remoteRank, ErrInvalidArgument)
		}
		slot := outBuf[remoteRank*slotLen : remoteRank*slotLen+slotLen]
		n2, err := h.Receive(slot)
		if err != nil {
			return err
		}
		if n2 == 0 {
			g.closing = true
			return ErrEndOfStream
		}
	}
	copy(outBuf[g.rank*slotLen:g.rank*slotLen+slotLen], localBuf)
	return nil
}

func (g *gatherGeneric) executeNonRoot(localBuf []byte) error {
	var rankBuf [8]byte
	binary.BigEndian.PutUint64(rankBuf[:], uint64(g.rank))
	if err := g.root.Send(rankBuf[:]); err != nil {
		return err
	}
	return g.root.Send(localBuf)
}

func (g *gatherGeneric) close() error {
	if g.isRoot {
		for _, h := range g.peers {
			h.Close(true, true)
		}
		g.peers = nil
		return nil
	}
	g.root.Close(true, false)
	return nil
}
