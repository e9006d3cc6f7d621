package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testNATSImage = "nats:2.10-alpine"

// StartTestServer starts a JetStream-enabled NATS server in a container and
// returns a connected Client. The container and connection are torn down
// via t.Cleanup. Tests using it should skip under -short.
func StartTestServer(t *testing.T) *Client {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        testNATSImage,
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("cannot start NATS container (docker unavailable?): %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	opts := DefaultOptions()
	opts.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())
	opts.Name = "pytake-test"

	client := New(opts, nil)
	if err := client.Connect(); err != nil {
		t.Fatalf("connect to test NATS: %v", err)
	}
	t.Cleanup(client.Close)

	return client
}
