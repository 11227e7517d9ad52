package eventsink

import (
	"context"
	"fmt"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/aiorchestrator/orchestrator/internal/clock"
)

// startRedpanda brings up a disposable single-broker Redpanda container for
// the Kafka sink integration test. The advertised address must match the
// host port the test client actually dials, so (unlike most testcontainers
// setups) this binds a fixed host port rather than letting Docker assign
// one.
func startRedpanda(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const port = 19093

	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--node-id", "0",
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", port),
			"--default-log-level=error",
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", port)},
			}
		},
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	return fmt.Sprintf("localhost:%d", port)
}

func TestKafka_EmitPublishesEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	broker := startRedpanda(t)
	clk := clock.NewFake(time.Now())
	sink, err := NewKafka([]string{broker}, "test-events", clk, nil)
	require.NoError(t, err)
	defer sink.Close()

	consumeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	consumer, err := kgo.NewClient(kgo.SeedBrokers(broker), kgo.ConsumeTopics("test-events"))
	require.NoError(t, err)
	defer consumer.Close()

	sink.Emit(context.Background(), "ai.request.completed", map[string]any{"provider": "openai"})

	fetches := consumer.PollFetches(consumeCtx)
	require.Empty(t, fetches.Errors())
	require.NotZero(t, fetches.NumRecords())
}
