package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process backend. It serves paper sessions and tests,
// and is the degraded-mode fallback when the sqlite store is unavailable.
type Memory struct {
	mu   sync.Mutex
	data *tables
}

type tables struct {
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	strings map[string]string
	expiry  map[string]time.Time
}

func newTables() *tables {
	return &tables{
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		strings: make(map[string]string),
		expiry:  make(map[string]time.Time),
	}
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, h := range t.hashes {
		m := make(map[string]string, len(h))
		for f, v := range h {
			m[f] = v
		}
		c.hashes[k] = m
	}
	for k, s := range t.sets {
		m := make(map[string]struct{}, len(s))
		for mem := range s {
			m[mem] = struct{}{}
		}
		c.sets[k] = m
	}
	for k, l := range t.lists {
		c.lists[k] = append([]string(nil), l...)
	}
	for k, v := range t.strings {
		c.strings[k] = v
	}
	for k, v := range t.expiry {
		c.expiry[k] = v
	}
	return c
}

// expired drops a key in every table if its TTL has passed.
func (t *tables) expired(key string) bool {
	deadline, ok := t.expiry[key]
	if !ok || time.Now().Before(deadline) {
		return false
	}
	delete(t.hashes, key)
	delete(t.sets, key)
	delete(t.lists, key)
	delete(t.strings, key)
	delete(t.expiry, key)
	return true
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.HSet(ctx, key, fields)
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.HGet(ctx, key, field)
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.HGetAll(ctx, key)
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.SAdd(ctx, key, members...)
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.SRem(ctx, key, members...)
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.SMembers(ctx, key)
}

func (m *Memory) LPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.LPush(ctx, key, values...)
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.LRange(ctx, key, start, stop)
}

func (m *Memory) LTrim(ctx context.Context, key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.LTrim(ctx, key, start, stop)
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.Set(ctx, key, value, ttl)
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.SetNX(ctx, key, value, ttl)
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.Get(ctx, key)
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.Del(ctx, key)
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m.data}.Expire(ctx, key, ttl)
}

// Atomic applies fn to a deep copy of the tables and swaps it in only when
// fn succeeds, so a failed block leaves no partial writes behind.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scratch := m.data.clone()
	if err := fn(memTx{scratch}); err != nil {
		return err
	}
	m.data = scratch
	return nil
}

func (m *Memory) Close() error { return nil }

// memTx operates on tables without locking; the caller holds the mutex.
type memTx struct {
	t *tables
}

func (x memTx) HSet(_ context.Context, key string, fields map[string]string) error {
	x.t.expired(key)
	h, ok := x.t.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		x.t.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (x memTx) HGet(_ context.Context, key, field string) (string, error) {
	if x.t.expired(key) {
		return "", ErrNotFound
	}
	if v, ok := x.t.hashes[key][field]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func (x memTx) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if x.t.expired(key) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(x.t.hashes[key]))
	for f, v := range x.t.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (x memTx) SAdd(_ context.Context, key string, members ...string) error {
	x.t.expired(key)
	s, ok := x.t.sets[key]
	if !ok {
		s = make(map[string]struct{})
		x.t.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (x memTx) SRem(_ context.Context, key string, members ...string) error {
	x.t.expired(key)
	for _, m := range members {
		delete(x.t.sets[key], m)
	}
	return nil
}

func (x memTx) SMembers(_ context.Context, key string) ([]string, error) {
	if x.t.expired(key) {
		return nil, nil
	}
	out := make([]string, 0, len(x.t.sets[key]))
	for m := range x.t.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (x memTx) LPush(_ context.Context, key string, values ...string) error {
	x.t.expired(key)
	for _, v := range values {
		x.t.lists[key] = append([]string{v}, x.t.lists[key]...)
	}
	return nil
}

func (x memTx) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	if x.t.expired(key) {
		return nil, nil
	}
	l := x.t.lists[key]
	s, e, ok := rangeBounds(start, stop, len(l))
	if !ok {
		return nil, nil
	}
	return append([]string(nil), l[s:e+1]...), nil
}

func (x memTx) LTrim(_ context.Context, key string, start, stop int) error {
	x.t.expired(key)
	l := x.t.lists[key]
	s, e, ok := rangeBounds(start, stop, len(l))
	if !ok {
		delete(x.t.lists, key)
		return nil
	}
	x.t.lists[key] = append([]string(nil), l[s:e+1]...)
	return nil
}

func (x memTx) Set(_ context.Context, key, value string, ttl time.Duration) error {
	x.t.expired(key)
	x.t.strings[key] = value
	if ttl > 0 {
		x.t.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (x memTx) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	x.t.expired(key)
	if _, exists := x.t.strings[key]; exists {
		return false, nil
	}
	return true, x.Set(ctx, key, value, ttl)
}

func (x memTx) Get(_ context.Context, key string) (string, error) {
	if x.t.expired(key) {
		return "", ErrNotFound
	}
	if v, ok := x.t.strings[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func (x memTx) Del(_ context.Context, key string) error {
	delete(x.t.hashes, key)
	delete(x.t.sets, key)
	delete(x.t.lists, key)
	delete(x.t.strings, key)
	delete(x.t.expiry, key)
	return nil
}

func (x memTx) Expire(_ context.Context, key string, ttl time.Duration) error {
	x.t.expiry[key] = time.Now().Add(ttl)
	return nil
}

// Atomic inside a transaction just runs the block on the same view.
func (x memTx) Atomic(_ context.Context, fn func(tx Store) error) error {
	return fn(x)
}

func (x memTx) Close() error { return nil }
