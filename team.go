package mtcl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CreateTeam performs the rendezvous of §4.7 that turns a named
// participant list into an ordered set of handles and elects the root,
// then returns a Collective bound to kind. Per the team-builder
// convention documented in both the source and spec.md: the root is
// assigned local rank 0; the remaining participants are assigned ranks
// 1..size-1 in participant-list order.
func (m *Manager) CreateTeam(ctx context.Context, participants []string, rootName string, kind CollectiveKind) (*Collective, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("mtcl: team needs at least 2 participants: %w", ErrInvalidArgument)
	}
	foundRoot := false
	others := make([]string, 0, len(participants)-1)
	for _, p := range participants {
		if p == rootName {
			foundRoot = true
			continue
		}
		others = append(others, p)
	}
	if !foundRoot {
		return nil, fmt.Errorf("mtcl: root %q not in participant list: %w", rootName, ErrInvalidArgument)
	}

	rankOf := make(map[string]int, len(participants))
	rankOf[rootName] = 0
	for i, p := range others {
		rankOf[p] = i + 1
	}

	if m.appName == rootName {
		return m.createTeamAsRoot(rootName, others, rankOf, kind)
	}
	rank, ok := rankOf[m.appName]
	if !ok {
		return nil, fmt.Errorf("mtcl: this manager's app name %q is not in the participant list: %w", m.appName, ErrInvalidArgument)
	}
	return m.createTeamAsNonRoot(ctx, rootName, rank, len(participants), kind)
}

func (m *Manager) createTeamAsRoot(rootName string, others []string, rankOf map[string]int, kind CollectiveKind) (*Collective, error) {
	if err := m.Listen(rootName); err != nil {
		return nil, err
	}
	size := len(others) + 1
	slots := make([]*Handle, len(others))

	var g errgroup.Group
	var mu sync.Mutex
	remaining := len(others)
	for remaining > 0 {
		h, err := m.GetNext()
		if err != nil {
			return nil, err
		}
		if !h.IsNewConnection() {
			// Not a rendezvous event for this team; return it to the
			// runtime so other consumers still observe it.
			m.Yield(h)
			continue
		}
		remaining--
		g.Go(func() error {
			var idBuf [256]byte
			n, err := h.Receive(idBuf[:])
			if err != nil {
				return err
			}
			id := string(idBuf[:n])
			rank, ok := rankOf[id]
			if !ok || rank == 0 {
				return fmt.Errorf("mtcl: unexpected team participant %q: %w", id, ErrInvalidArgument)
			}
			mu.Lock()
			slots[rank-1] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mapping := encodeRankMapping(rootName, others)
	for _, h := range slots {
		if err := h.Send(mapping); err != nil {
			return nil, err
		}
	}
	return newCollective(kind, true, 0, size, slots)
}

func (m *Manager) createTeamAsNonRoot(ctx context.Context, rootName string, rank, size int, kind CollectiveKind) (*Collective, error) {
	h, err := m.Connect(ctx, rootName)
	if err != nil {
		return nil, err
	}
	if err := h.Send([]byte(m.appName)); err != nil {
		return nil, err
	}
	var mapBuf [4096]byte
	if _, err := h.Receive(mapBuf[:]); err != nil {
		return nil, err
	}
	return newCollective(kind, false, rank, size, []*Handle{h})
}

// encodeRankMapping serializes the final rank->identifier assignment
// broadcast to every non-root once the rendezvous completes, per §6.3.
func encodeRankMapping(rootName string, others []string) []byte {
	names := append([]string{rootName}, others...)
	return []byte(strings.Join(names, ","))
}
