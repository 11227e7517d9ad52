package eventsink

import "github.com/aiorchestrator/orchestrator/internal/domain"

// Multi fans one Emit call out to every wrapped sink, letting the
// orchestrator publish to both the in-memory telemetry subscriber and a
// durable sink (e.g. Kafka) without either needing to know about the
// other.
type Multi struct {
	sinks []domain.EventSink
}

// NewMulti composes sinks into a single domain.EventSink.
func NewMulti(sinks ...domain.EventSink) *Multi {
	return &Multi{sinks: sinks}
}

var _ domain.EventSink = (*Multi)(nil)

func (m *Multi) Emit(ctx domain.Context, eventType string, payload map[string]any) {
	for _, s := range m.sinks {
		if s != nil {
			s.Emit(ctx, eventType, payload)
		}
	}
}

// MemorySink returns the first *Memory sink in the composition, if any —
// used to recover the concrete type telemetry.Collector.Subscribe requires.
func (m *Multi) MemorySink() *Memory {
	for _, s := range m.sinks {
		if mem, ok := s.(*Memory); ok {
			return mem
		}
	}
	return nil
}
