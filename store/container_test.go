package store_test

import (
	"context"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// backend describes a throwaway container holding a store backend.
type backend struct {
	image string
	port  nat.Port
	env   map[string]string
	// extra readiness check on top of the listening port
	ready wait.Strategy
}

// startBackend runs the container until the test ends and returns the
// host and port it can be reached on. Tests needing docker are skipped
// in short mode.
func startBackend(t *testing.T, b backend) (string, int) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}

	ctx := context.Background()
	readiness := []wait.Strategy{wait.ForListeningPort(b.port)}
	if b.ready != nil {
		readiness = append(readiness, b.ready)
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        b.image,
			ExposedPorts: []string{string(b.port)},
			Env:          b.env,
			WaitingFor:   wait.ForAll(readiness...),
		},
		Started: true,
	})
	require.NoError(t, err, "starting %s", b.image)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, b.port)
	require.NoError(t, err)
	return host, mapped.Int()
}
