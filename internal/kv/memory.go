package kv

import (
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// Memory is an in-process, non-atomic fake of domain.KeyValueStore used by
// unit tests that don't need a real Redis round-trip (e.g. quota/ratelimit
// table tests). It is not safe to use as an actual L2 cache backend: TTLs
// are only honored on read, and Subscribe never receives anything Publish
// didn't originate from the very same Memory instance.
type Memory struct {
	mu    sync.Mutex
	strs  map[string]memVal
	hsets map[string]map[string]string
	sets  map[string]map[string]struct{}
	zsets map[string]map[string]float64
	lists map[string][]string

	subs map[string][]chan string
}

type memVal struct {
	val string
	exp time.Time // zero means no expiry
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		strs:  make(map[string]memVal),
		hsets: make(map[string]map[string]string),
		sets:  make(map[string]map[string]struct{}),
		zsets: make(map[string]map[string]float64),
		lists: make(map[string][]string),
		subs:  make(map[string][]chan string),
	}
}

var _ domain.KeyValueStore = (*Memory)(nil)

func (m *Memory) expired(v memVal) bool {
	return !v.exp.IsZero() && time.Now().After(v.exp)
}

func (m *Memory) Get(_ domain.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.strs[key]
	if !ok || m.expired(v) {
		return "", false, nil
	}
	return v.val, true, nil
}

func (m *Memory) Set(_ domain.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memVal{val: val}
	if ttl > 0 {
		v.exp = time.Now().Add(ttl)
	}
	m.strs[key] = v
	return nil
}

func (m *Memory) Del(_ domain.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strs, k)
		delete(m.hsets, k)
		delete(m.sets, k)
		delete(m.zsets, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) Incr(_ domain.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.strs[key]
	n, _ := strconv.ParseInt(v.val, 10, 64)
	n++
	m.strs[key] = memVal{val: strconv.FormatInt(n, 10), exp: v.exp}
	return n, nil
}

func (m *Memory) HGet(_ domain.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *Memory) HSet(_ domain.Context, key, field, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		h = make(map[string]string)
		m.hsets[key] = h
	}
	h[field] = val
	return nil
}

func (m *Memory) HGetAll(_ domain.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hsets[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HIncrBy(_ domain.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		h = make(map[string]string)
		m.hsets[key] = h
	}
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n += delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) HIncrByFloat(_ domain.Context, key, field string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		h = make(map[string]string)
		m.hsets[key] = h
	}
	f, _ := strconv.ParseFloat(h[field], 64)
	f += delta
	h[field] = strconv.FormatFloat(f, 'f', -1, 64)
	return f, nil
}

func (m *Memory) HDel(_ domain.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *Memory) SAdd(_ domain.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *Memory) SMembers(_ domain.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ZAdd(_ domain.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *Memory) ZRangeByScore(_ domain.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for mem, score := range m.zsets[key] {
		if score >= min && score <= max {
			pairs = append(pairs, pair{mem, score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (m *Memory) ZRem(_ domain.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(z, mem)
	}
	return nil
}

func (m *Memory) ZRemRangeByScore(_ domain.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for mem, score := range z {
		if score >= min && score <= max {
			delete(z, mem)
		}
	}
	return nil
}

func (m *Memory) ZCard(_ domain.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *Memory) LPush(_ domain.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	for _, v := range values {
		l = append([]string{v}, l...)
	}
	m.lists[key] = l
	return nil
}

func (m *Memory) LRange(_ domain.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	start, stop = clampRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *Memory) LTrim(_ domain.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil
	}
	start, stop = clampRange(start, stop, n)
	if start > stop {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = append([]string{}, l[start:stop+1]...)
	return nil
}

func clampRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (m *Memory) Keys(_ domain.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.strs {
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	for k := range m.hsets {
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	for k := range m.zsets {
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Expire(_ domain.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.strs[key]; ok {
		v.exp = time.Now().Add(ttl)
		m.strs[key] = v
	}
	return nil
}

// Pipeline applies each queued op immediately, taking the store mutex per
// op, so the batch as a whole is not atomic; it exists to satisfy the
// interface for callers that don't care about real network batching in tests.
func (m *Memory) Pipeline(ctx domain.Context, fn func(domain.Pipeline) error) error {
	p := &memPipeline{m: m, ctx: ctx}
	return fn(p)
}

func (m *Memory) Publish(_ domain.Context, channel, message string) error {
	m.mu.Lock()
	subs := append([]chan string{}, m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ domain.Context, channel string) (<-chan string, func() error, error) {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()
	closeFn := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
		return nil
	}
	return ch, closeFn, nil
}

type memPipeline struct {
	m   *Memory
	ctx domain.Context
}

func (p *memPipeline) HIncrBy(key, field string, delta int64) {
	_, _ = p.m.HIncrBy(p.ctx, key, field, delta)
}

func (p *memPipeline) HIncrByFloat(key, field string, delta float64) {
	_, _ = p.m.HIncrByFloat(p.ctx, key, field, delta)
}

func (p *memPipeline) Expire(key string, ttl time.Duration) {
	_ = p.m.Expire(p.ctx, key, ttl)
}

func (p *memPipeline) ZAdd(key string, score float64, member string) {
	_ = p.m.ZAdd(p.ctx, key, score, member)
}

func (p *memPipeline) ZRemRangeByScore(key string, min, max float64) {
	_ = p.m.ZRemRangeByScore(p.ctx, key, min, max)
}
