package mtcl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTeamBroadcastRendezvousAndDelivers(t *testing.T) {
	const root = "TCP:127.0.0.1:44100"
	participants := []string{root, "leafA", "leafB"}

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr := NewManager(root, WithFastPoll(time.Millisecond), WithSteadyPoll(2*time.Millisecond))
		if err := mgr.Init(); err != nil {
			errs <- err
			return
		}
		defer mgr.Finalize(true)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		team, err := mgr.CreateTeam(ctx, participants, root, KindBroadcast)
		if err != nil {
			errs <- err
			return
		}
		if err := team.Send([]byte("go")); err != nil {
			errs <- err
			return
		}
		errs <- team.Close()
	}()

	results := make(chan string, 2)
	for _, name := range []string{"leafA", "leafB"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			mgr := NewManager(name, WithFastPoll(time.Millisecond), WithSteadyPoll(2*time.Millisecond))
			if err := mgr.Init(); err != nil {
				errs <- err
				return
			}
			defer mgr.Finalize(true)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			team, err := mgr.CreateTeam(ctx, participants, root, KindBroadcast)
			if err != nil {
				errs <- err
				return
			}
			buf := make([]byte, 16)
			n, err := team.Receive(buf)
			if err != nil {
				errs <- err
				return
			}
			results <- string(buf[:n])
			// A non-root may only close once it has observed the root's EOS.
			if n, err = team.Receive(buf); err == nil && n != 0 {
				err = fmt.Errorf("expected EOS after the broadcast, got %d bytes", n)
			}
			if err != nil {
				errs <- err
				return
			}
			errs <- team.Close()
		}(name)
	}

	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		require.NoError(t, err)
	}
	var got []string
	for r := range results {
		got = append(got, r)
	}
	assert.ElementsMatch(t, []string{"go", "go"}, got)
}
