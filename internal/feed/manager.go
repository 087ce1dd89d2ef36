// Package feed maintains the streaming market-data connection.
//
// The manager owns one WebSocket to the exchange ticker feed. It tracks the
// subscription set (baseline index instruments for the whole session plus
// option instruments while their positions are open), re-issues the full set
// on every reconnect, deduplicates stale ticks, and hands accepted ticks to
// a single non-blocking sink. Reconnects use exponential backoff with
// jitter up to a configured attempt ceiling.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/internal/config"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

const writeTimeout = 10 * time.Second

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// Sink receives every accepted tick. It must not block; the cache put and
// fan-out behind it are O(1).
type Sink func(types.Tick)

// Conn is the subset of *websocket.Conn the manager uses. Tests substitute
// an in-process pipe.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a feed connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

func gorillaDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// subscribeMsg is the wire request maintaining the instrument set.
type subscribeMsg struct {
	Action      string                `json:"action"` // "subscribe" or "unsubscribe"
	Instruments []types.InstrumentKey `json:"instruments"`
}

// tickMsg is one ticker frame from the feed.
type tickMsg struct {
	Type            string  `json:"type"`
	Segment         string  `json:"segment"`
	SecurityID      string  `json:"security_id"`
	LTP             float64 `json:"ltp"`
	ATP             float64 `json:"atp"`
	DayHigh         float64 `json:"day_high"`
	DayLow          float64 `json:"day_low"`
	Volume          int64   `json:"volume"`
	ServerTimestamp int64   `json:"server_timestamp"` // unix millis
}

// Manager is the resilient feed connection.
type Manager struct {
	cfg    config.WSConfig
	dial   Dialer
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	conn     Conn
	state    State
	baseline map[types.InstrumentKey]bool
	position map[types.InstrumentKey]bool
	lastSeen map[types.InstrumentKey]time.Time
	lastTick time.Time
	closing  bool
}

// NewManager creates a feed manager. The sink is invoked for every accepted
// tick.
func NewManager(cfg config.WSConfig, sink Sink, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		dial:     gorillaDialer,
		sink:     sink,
		state:    StateDisconnected,
		baseline: make(map[types.InstrumentKey]bool),
		position: make(map[types.InstrumentKey]bool),
		lastSeen: make(map[types.InstrumentKey]time.Time),
		logger:   logger.With("component", "ws_manager"),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastTickAt returns when the last tick arrived, for staleness checks.
func (m *Manager) LastTickAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTick
}

// Subscriptions returns the full subscription set, sorted.
func (m *Manager) Subscriptions() []types.InstrumentKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.InstrumentKey, 0, len(m.baseline)+len(m.position))
	for k := range m.baseline {
		out = append(out, k)
	}
	for k := range m.position {
		if !m.baseline[k] {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// AddBaseline registers session-lifetime instruments. Idempotent.
func (m *Manager) AddBaseline(keys ...types.InstrumentKey) {
	m.updateSet(m.baseline, keys, true)
}

// AddPosition subscribes an instrument for the lifetime of its position.
func (m *Manager) AddPosition(key types.InstrumentKey) {
	m.updateSet(m.position, []types.InstrumentKey{key}, true)
}

// RemovePosition drops a position instrument once its net quantity is zero.
// Baseline instruments are never dropped here.
func (m *Manager) RemovePosition(key types.InstrumentKey) {
	m.updateSet(m.position, []types.InstrumentKey{key}, false)
}

func (m *Manager) updateSet(set map[types.InstrumentKey]bool, keys []types.InstrumentKey, add bool) {
	m.mu.Lock()
	var changed []types.InstrumentKey
	for _, k := range keys {
		if set[k] == add {
			continue
		}
		if add {
			set[k] = true
		} else {
			delete(set, k)
		}
		changed = append(changed, k)
	}
	conn, connected := m.conn, m.state == StateConnected
	m.mu.Unlock()

	if len(changed) == 0 || !connected {
		return
	}
	action := "subscribe"
	if !add {
		action = "unsubscribe"
	}
	if err := m.writeJSON(conn, subscribeMsg{Action: action, Instruments: changed}); err != nil {
		m.logger.Warn("subscription update failed", "action", action, "error", err)
	}
}

// Run connects and maintains the feed until ctx is cancelled or the
// reconnect budget is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	attempts := 0
	for {
		m.setState(StateConnecting)
		err := m.connectAndRead(ctx)

		if ctx.Err() != nil || m.isClosing() {
			m.setState(StateDisconnected)
			return nil
		}
		m.setState(StateDisconnected)

		attempts++
		if m.cfg.MaxReconnectAttempts > 0 && attempts > m.cfg.MaxReconnectAttempts {
			return fmt.Errorf("feed: reconnect attempts exhausted: %w", errors.Join(err, types.ErrDisconnected))
		}

		delay := m.backoff(attempts)
		m.logger.Warn("feed disconnected, reconnecting",
			"error", err, "attempt", attempts, "backoff", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// backoff is min(base·2^attempts, max) plus up to 25% jitter.
func (m *Manager) backoff(attempts int) time.Duration {
	delay := m.cfg.BaseReconnectDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= m.cfg.MaxReconnectDelay {
			delay = m.cfg.MaxReconnectDelay
			break
		}
	}
	if delay > m.cfg.MaxReconnectDelay {
		delay = m.cfg.MaxReconnectDelay
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}

func (m *Manager) connectAndRead(ctx context.Context) error {
	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		conn.Close()
		m.conn = nil
		m.mu.Unlock()
	}()

	// Resubscription invariant: every transition to Connected re-issues
	// the full baseline ∪ position set.
	if subs := m.Subscriptions(); len(subs) > 0 {
		if err := m.writeJSON(conn, subscribeMsg{Action: "subscribe", Instruments: subs}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}
	m.logger.Info("feed connected", "subscriptions", len(m.Subscriptions()))

	readTimeout := 3 * m.cfg.HeartbeatInterval
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.handleMessage(msg)
	}
}

func (m *Manager) handleMessage(data []byte) {
	var frame tickMsg
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Debug("ignoring non-json feed frame", "data", string(data))
		return
	}
	if frame.Type != "" && frame.Type != "ticker" {
		m.logger.Debug("ignoring feed frame", "type", frame.Type)
		return
	}
	if frame.SecurityID == "" {
		return
	}

	ts := time.UnixMilli(frame.ServerTimestamp)
	key := types.InstrumentKey{Segment: frame.Segment, SecurityID: frame.SecurityID}

	m.mu.Lock()
	if seen, ok := m.lastSeen[key]; ok && ts.Before(seen.Add(-m.cfg.DedupWindow)) {
		m.mu.Unlock()
		return
	}
	if ts.After(m.lastSeen[key]) {
		m.lastSeen[key] = ts
	}
	m.lastTick = time.Now()
	m.mu.Unlock()

	m.sink(types.Tick{
		Segment:         frame.Segment,
		SecurityID:      frame.SecurityID,
		LTP:             money.FromFloat(frame.LTP),
		ATP:             money.FromFloat(frame.ATP),
		DayHigh:         money.FromFloat(frame.DayHigh),
		DayLow:          money.FromFloat(frame.DayLow),
		Volume:          frame.Volume,
		ServerTimestamp: ts,
		ReceivedAt:      time.Now(),
	})
}

func (m *Manager) writeJSON(conn Conn, v any) error {
	if conn == nil {
		return types.ErrDisconnected
	}
	if wc, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return conn.WriteJSON(v)
}

// Close stops the reconnect loop and closes the socket. Pending sends are
// dropped.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closing = true
	m.state = StateClosing
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing && s != StateDisconnected {
		return
	}
	m.state = s
}
