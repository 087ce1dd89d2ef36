// Package store provides the namespaced durable K/V layer used for
// positions, orders, session P&L, LTP snapshots, liveness, locks, and
// idempotency records.
//
// The contract is capability-shaped rather than engine-shaped: hashes,
// sets, lists, TTLs, and a transactional Atomic that applies a group of
// writes all-or-nothing. Two backends implement it — an in-process memory
// store (paper runs, tests) and a sqlite store (crash recovery across
// restarts). All field values are printable strings; callers serialize.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable K/V capability contract.
type Store interface {
	// Hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Lists. LPush prepends, so LRange(key, 0, n) is newest-first.
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int) error

	// Strings
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error

	// Expire attaches a TTL to any key kind.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Atomic runs fn against a transactional view; either every write in
	// fn applies or none do. Nested Atomic calls join the outer transaction.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// Keys builds the canonical key hierarchy <ns>:<category>:<id>.
type Keys struct {
	NS string
}

func (k Keys) Position(pid string) string        { return k.NS + ":pos:" + pid }
func (k Keys) OpenPositions() string             { return k.NS + ":pos:open" }
func (k Keys) Order(oid string) string           { return k.NS + ":order:" + oid }
func (k Keys) Orders(mode, session string) string { return k.NS + ":orders:" + mode + ":" + session }
func (k Keys) SessionPnL() string                { return k.NS + ":pnl:session" }
func (k Keys) Tick(segment, sid string) string   { return k.NS + ":ticks:" + segment + ":" + sid }
func (k Keys) LTPSnapshot() string               { return k.NS + ":ltp:snapshot" }
func (k Keys) Heartbeat() string                 { return k.NS + ":hb" }
func (k Keys) Lock(name string) string           { return k.NS + ":locks:" + name }
func (k Keys) Idempotency(key string) string     { return k.NS + ":idemp:" + key }

// Standard TTLs from the key contract.
const (
	SnapshotTTL    = 5 * time.Minute
	HeartbeatTTL   = 5 * time.Minute
	IdempotencyTTL = 30 * time.Second
	LockTTL        = 10 * time.Second
)

// rangeBounds normalizes (start, stop) where stop == -1 means "to the end",
// mirroring the list-range convention callers expect.
func rangeBounds(start, stop, length int) (int, int, bool) {
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= length {
		stop = length - 1
	}
	if length == 0 || start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}
