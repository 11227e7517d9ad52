package eventsink

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// DefaultTopic is the topic Kafka durably records every orchestrator event
// onto, for audit/replay independent of the in-memory telemetry fan-out.
const DefaultTopic = "ai-orchestrator-events"

// kafkaEnvelope is the wire shape of one durable event record.
type kafkaEnvelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// Kafka is a durable, fire-and-forget domain.EventSink backed by a Kafka
// (or Redpanda) topic. Unlike Memory, it survives process restarts; unlike
// a transactional producer, it makes no exactly-once promise — event
// delivery is explicitly best-effort, so a plain async
// producer is the right tool, not the teacher's EOS transaction dance.
type Kafka struct {
	client *kgo.Client
	topic  string
	clock  domain.Clock
	logger *slog.Logger
}

// NewKafka constructs a Kafka sink over the given seed brokers.
func NewKafka(brokers []string, topic string, clk domain.Clock, logger *slog.Logger) (*Kafka, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, err
	}

	return &Kafka{client: client, topic: topic, clock: clk, logger: logger}, nil
}

var _ domain.EventSink = (*Kafka)(nil)

// Emit serializes the event envelope and produces it asynchronously; a
// produce failure is logged and otherwise swallowed, since EventSink
// publish failures must never surface to the caller of Generate.
func (k *Kafka) Emit(ctx domain.Context, eventType string, payload map[string]any) {
	envelope := kafkaEnvelope{Type: eventType, Payload: payload, At: k.clock.Now()}
	body, err := json.Marshal(envelope)
	if err != nil {
		k.logger.Warn("event envelope marshal failed", "type", eventType, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(eventType),
		Value: body,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.Warn("event publish failed", "type", eventType, "topic", k.topic, "error", err)
		}
	})
}

// Close releases the underlying client connections. It does not flush
// first: records still buffered by the asynchronous Emit are not delivered.
func (k *Kafka) Close() {
	k.client.Close()
}
