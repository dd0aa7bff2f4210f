package subscribe

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const timeout = time.Second

// TestSubscribeDelivery checks fan-out, replay of the latest update and
// cancellation.
func TestSubscribeDelivery(t *testing.T) {
	t.Parallel()

	server := NewServer[string]()
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
	})

	first, err := server.Subscribe()
	require.NoError(t, err)

	require.NoError(t, server.SendUpdate("waiting"))

	got, err := fn.RecvOrTimeout(first.Updates(), timeout)
	require.NoError(t, err)
	require.Equal(t, "waiting", got)

	// A late subscriber starts from the latest update.
	second, err := server.Subscribe()
	require.NoError(t, err)

	got, err = fn.RecvOrTimeout(second.Updates(), timeout)
	require.NoError(t, err)
	require.Equal(t, "waiting", got)

	require.NoError(t, server.SendUpdate("ready"))
	for _, client := range []*Client[string]{first, second} {
		got, err := fn.RecvOrTimeout(client.Updates(), timeout)
		require.NoError(t, err)
		require.Equal(t, "ready", got)
	}

	first.Cancel()
	_, err = fn.RecvOrTimeout(first.Quit(), timeout)
	require.NoError(t, err)

	require.NoError(t, server.SendUpdate("done"))
	got, err = fn.RecvOrTimeout(second.Updates(), timeout)
	require.NoError(t, err)
	require.Equal(t, "done", got)
}

// TestServerStop checks that clients are released and further calls fail.
func TestServerStop(t *testing.T) {
	t.Parallel()

	server := NewServer[int]()
	require.NoError(t, server.Start())

	client, err := server.Subscribe()
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())

	_, err = fn.RecvOrTimeout(client.Quit(), timeout)
	require.NoError(t, err)

	require.ErrorIs(t, server.SendUpdate(1), ErrServerShuttingDown)

	_, err = server.Subscribe()
	require.ErrorIs(t, err, ErrServerShuttingDown)
}
