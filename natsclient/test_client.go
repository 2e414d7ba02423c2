package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient runs a NATS server in a container for integration tests.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

type testConfig struct {
	jetstream    bool
	kvBuckets    []string
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(cfg *testConfig) { cfg.jetstream = true }
}

// WithKVBuckets enables JetStream and creates the named buckets.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithNATSVersion picks the server image tag.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) { cfg.natsVersion = version }
}

// NewTestClient starts a container, connects a Client to it and registers cleanup on t.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + cfg.natsVersion,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	tc := &TestClient{container: container, Client: client, URL: url}
	for _, bucket := range cfg.kvBuckets {
		if _, err := tc.CreateKVBucket(ctx, bucket); err != nil {
			t.Fatalf("Failed to create KV bucket %s: %v", bucket, err)
		}
	}
	return tc
}

// CreateKVBucket creates or opens a bucket.
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}
