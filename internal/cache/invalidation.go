package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// invalidationMessage is the envelope published on cache:invalidation and
// consumed by every subscribing instance.
type invalidationMessage struct {
	Type      string `json:"type"` // key, tag, pattern, clear
	Target    string `json:"target"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
}

func (c *Cache) announce(ctx context.Context, msgType, target, reason string) error {
	msg := invalidationMessage{
		Type:      msgType,
		Target:    target,
		Timestamp: c.clk.Now().UnixMilli(),
		Source:    c.instanceID,
		Reason:    reason,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.l2.Publish(ctx, invalidationCh, string(body))
}

// EmitCacheInvalidated reports an invalidation event through sink,
// separate from the KV pub/sub channel used for cross-instance dispatch.
func (c *Cache) EmitCacheInvalidated(ctx context.Context, sink domain.EventSink, msgType, target string) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, domain.EventCacheInvalidated, map[string]any{
		"type":   msgType,
		"target": target,
		"at":     c.clk.Now(),
	})
}

// Subscribe starts dispatching incoming cross-instance invalidation
// messages to the local tiers, ignoring messages this instance itself
// published. It returns once the subscription has registered; the
// dispatch loop keeps running until ctx is canceled.
func (c *Cache) Subscribe(ctx context.Context) error {
	ch, _, err := c.l2.Subscribe(ctx, invalidationCh)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				c.dispatch(ctx, raw)
			}
		}
	}()
	return nil
}

func (c *Cache) dispatch(ctx context.Context, raw string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		slog.Warn("cache invalidation message malformed", "error", err)
		return
	}
	if msg.Source == c.instanceID {
		return // self-message, already applied locally
	}

	switch msg.Type {
	case "key":
		c.deleteLocal(msg.Target)
	case "tag":
		c.invalidateLocalByTagBestEffort(ctx, msg.Target)
	case "pattern":
		c.invalidateLocalByPattern(msg.Target)
	case "clear":
		c.mu.Lock()
		c.l1.Purge()
		c.mu.Unlock()
	}
}

// invalidateLocalByTagBestEffort drops the tag's known members from L1
// only — the L2 side-effects were already applied by the publishing
// instance, this instance just needs to stop serving stale L1 entries.
func (c *Cache) invalidateLocalByTagBestEffort(ctx context.Context, tag string) {
	members, err := c.l2.SMembers(ctx, tagKeyPrefix+tag)
	if err != nil {
		return
	}
	for _, key := range members {
		c.deleteLocal(key)
	}
}

// invalidationRule is one entry of the cache:invalidation:rules hash:
// whenever sourceKey is invalidated, also invalidate Pattern (cascading
// further if Cascade is set).
type invalidationRule struct {
	Pattern      string   `json:"pattern"`
	Dependencies []string `json:"dependencies"`
	Cascade      bool     `json:"cascade"`
}

// maxCascadeDepth bounds InvalidateDependents recursion so a rule cycle
// can never loop forever.
const maxCascadeDepth = 16

// AddInvalidationRule registers or replaces a dependency rule under name.
func (c *Cache) AddInvalidationRule(ctx context.Context, name string, rule invalidationRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return c.l2.HSet(ctx, rulesKey, name, string(body))
}

// InvalidateDependents walks the rule set, invalidating every rule pattern
// that depends on sourceKey, recursing into cascading rules up to
// maxCascadeDepth.
func (c *Cache) InvalidateDependents(ctx context.Context, sourceKey string) error {
	visited := make(map[string]bool)
	return c.invalidateDependents(ctx, sourceKey, visited, 0)
}

func (c *Cache) invalidateDependents(ctx context.Context, sourceKey string, visited map[string]bool, depth int) error {
	if depth >= maxCascadeDepth || visited[sourceKey] {
		return nil
	}
	visited[sourceKey] = true

	rules, err := c.l2.HGetAll(ctx, rulesKey)
	if err != nil {
		return err
	}
	for _, raw := range rules {
		var rule invalidationRule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			continue
		}
		if !containsString(rule.Dependencies, sourceKey) {
			continue
		}
		if strings.Contains(rule.Pattern, "*") {
			if err := c.InvalidateByPattern(ctx, strings.ReplaceAll(rule.Pattern, "*", "")); err != nil {
				return err
			}
		} else {
			if err := c.Invalidate(ctx, rule.Pattern); err != nil {
				return err
			}
		}
		if rule.Cascade {
			if err := c.invalidateDependents(ctx, rule.Pattern, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// scheduledInvalidation is one entry of the cache:invalidation:schedule
// sorted set, scored by due-time (epoch ms).
type scheduledInvalidation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// ScheduleInvalidation queues key to be invalidated at dueAt.
func (c *Cache) ScheduleInvalidation(ctx context.Context, key, reason string, dueAt time.Time) error {
	body, err := json.Marshal(scheduledInvalidation{Key: key, Reason: reason, Source: c.instanceID})
	if err != nil {
		return err
	}
	return c.l2.ZAdd(ctx, scheduleKey, float64(dueAt.UnixMilli()), string(body))
}

// scheduleTickInterval is how often a caller-owned ticker invokes
// RunScheduledInvalidations (see cmd/server wiring).
const scheduleTickInterval = 60 * time.Second

// ScheduleTickInterval exposes scheduleTickInterval to callers that wire
// their own ticker loop around RunScheduledInvalidations.
func ScheduleTickInterval() time.Duration { return scheduleTickInterval }

// RunScheduledInvalidations pops every due entry from the schedule set and
// invalidates it. Intended to be called on a 60s tick.
func (c *Cache) RunScheduledInvalidations(ctx context.Context) error {
	now := float64(c.clk.Now().UnixMilli())
	due, err := c.l2.ZRangeByScore(ctx, scheduleKey, 0, now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	for _, raw := range due {
		var item scheduledInvalidation
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		if err := c.Invalidate(ctx, item.Key); err != nil {
			return err
		}
	}
	return c.l2.ZRemRangeByScore(ctx, scheduleKey, 0, now)
}
