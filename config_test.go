package mtcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResolverDoc = `{
  "components": [
    {"name": "App1", "host": "127.0.0.1:42000", "protocols": ["TCP"], "listen-endpoints": ["TCP:0.0.0.0:42000"]},
    {"name": "App2", "host": "broker.local:1883:rendezvous", "protocols": ["MQTT"], "listen-endpoints": []}
  ]
}`

func TestParseResolverLookup(t *testing.T) {
	r, err := ParseResolver([]byte(sampleResolverDoc))
	require.NoError(t, err)

	c, ok := r.Lookup("App1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:42000", c.Host)
	assert.Equal(t, []string{"TCP"}, c.Protocols)

	_, ok = r.Lookup("NoSuchApp")
	assert.False(t, ok)
}

func TestResolverConnectAddressPicksReachableProtocol(t *testing.T) {
	r, err := ParseResolver([]byte(sampleResolverDoc))
	require.NoError(t, err)

	addr, err := r.ConnectAddress("App1", func(scheme string) bool { return scheme == "TCP" })
	require.NoError(t, err)
	assert.Equal(t, "TCP:127.0.0.1:42000", addr)

	_, err = r.ConnectAddress("App2", func(scheme string) bool { return scheme == "TCP" })
	require.Error(t, err)
	assert.Equal(t, KindUnknownScheme, Kind(err))
}

func TestResolverConnectAddressUnknownComponent(t *testing.T) {
	r, err := ParseResolver([]byte(sampleResolverDoc))
	require.NoError(t, err)
	_, err = r.ConnectAddress("Ghost", func(string) bool { return true })
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, Kind(err))
}

func TestResolverListenAddresses(t *testing.T) {
	r, err := ParseResolver([]byte(sampleResolverDoc))
	require.NoError(t, err)
	addrs, err := r.ListenAddresses("App1")
	require.NoError(t, err)
	assert.Equal(t, []string{"TCP:0.0.0.0:42000"}, addrs)
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfig(nil)
	assert.Equal(t, DefaultFastPoll, cfg.fastPoll)
	assert.Equal(t, DefaultSteadyPoll, cfg.steadyPoll)
	assert.NotNil(t, cfg.logger)
	assert.NotNil(t, cfg.metrics)
}

func TestApplyConfigOptionsOverrideDefaults(t *testing.T) {
	cfg := applyConfig([]Option{WithFastPoll(0), WithSteadyPoll(123)})
	// A non-positive duration is ignored; fastPoll keeps its default.
	assert.Equal(t, DefaultFastPoll, cfg.fastPoll)
	assert.EqualValues(t, 123, cfg.steadyPoll)
}
