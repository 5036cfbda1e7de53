// Package realtime maintains tenant-scoped subscriptions to the server's
// change-notification channel. One websocket connection is shared by every
// callback registered for a tenant; the registry owns the transport
// lifecycle, reconnecting with bounded exponential backoff and tearing the
// connection down when the last callback unregisters.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/marcus/possync/internal/models"
)

// ConnState is the listener connection state for one tenant.
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
)

// Callback receives normalized change events. Callbacks run on the listener
// goroutine and should hand work off quickly.
type Callback func(models.ChangeEvent)

// Conn is the transport surface the listener reads from. The production
// implementation wraps a coder/websocket connection; tests substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc opens a transport connection to a tenant's channel URL.
type DialFunc func(ctx context.Context, channelURL string) (Conn, error)

// Options tune the registry.
type Options struct {
	BaseDelay   time.Duration // reconnect backoff base, default 1s
	MaxDelay    time.Duration // reconnect backoff cap, default 30s
	MaxAttempts int           // consecutive failed connects before giving up, default 5

	// OnError is invoked when reconnection is exhausted for a tenant, so the
	// owner can fall back to periodic pull. May be nil.
	OnError func(tenantID string, err error)

	// Dial overrides the websocket dialer, for tests.
	Dial DialFunc
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

// Registry is the reference-counted subscription registry keyed by tenant.
type Registry struct {
	baseURL string // e.g. wss://sync.example.com
	apiKey  string
	opts    Options

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	tenantID  string
	callbacks map[int]Callback
	nextID    int
	cancel    context.CancelFunc
	state     ConnState
}

// NewRegistry creates a registry dialing channels under baseURL.
func NewRegistry(baseURL, apiKey string, opts Options) *Registry {
	r := &Registry{
		baseURL: baseURL,
		apiKey:  apiKey,
		opts:    opts.withDefaults(),
		subs:    make(map[string]*subscription),
	}
	if r.opts.Dial == nil {
		r.opts.Dial = func(ctx context.Context, channelURL string) (Conn, error) {
			return dialWebsocket(ctx, channelURL, apiKey)
		}
	}
	return r
}

// Subscribe registers a callback for a tenant's change events and returns an
// unsubscribe func. The first subscriber for a tenant opens the underlying
// channel; the last unsubscribe tears it down.
func (r *Registry) Subscribe(tenantID string, cb Callback) (func(), error) {
	if tenantID == "" {
		return nil, fmt.Errorf("subscribe: empty tenant id")
	}

	r.mu.Lock()
	sub, ok := r.subs[tenantID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &subscription{
			tenantID:  tenantID,
			callbacks: make(map[int]Callback),
			cancel:    cancel,
			state:     StateDisconnected,
		}
		r.subs[tenantID] = sub
		go r.run(ctx, sub)
	}
	id := sub.nextID
	sub.nextID++
	sub.callbacks[id] = cb
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			cur, ok := r.subs[tenantID]
			if !ok || cur != sub {
				return
			}
			delete(sub.callbacks, id)
			if len(sub.callbacks) == 0 {
				sub.cancel()
				delete(r.subs, tenantID)
			}
		})
	}
	return unsubscribe, nil
}

// State returns the connection state for a tenant.
func (r *Registry) State(tenantID string) ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[tenantID]; ok {
		return sub.state
	}
	return StateDisconnected
}

// Close tears down every subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tenantID, sub := range r.subs {
		sub.cancel()
		delete(r.subs, tenantID)
	}
}

// run owns one tenant's connection: dial, read until closure, reconnect with
// backoff. Exceeding the attempt bound surfaces a hard error through OnError
// and stops; the owner falls back to periodic pull.
func (r *Registry) run(ctx context.Context, sub *subscription) {
	channelURL := r.channelURL(sub.tenantID)
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}
		r.setState(sub, StateConnecting)

		conn, err := r.opts.Dial(ctx, channelURL)
		if err != nil {
			r.setState(sub, StateDisconnected)
			attempts++
			if attempts >= r.opts.MaxAttempts {
				slog.Error("realtime: reconnect attempts exhausted",
					"tenant", sub.tenantID, "attempts", attempts, "err", err)
				// drop the dead subscription so a later Subscribe re-dials
				// instead of attaching to a goroutine that no longer exists
				r.mu.Lock()
				if r.subs[sub.tenantID] == sub {
					delete(r.subs, sub.tenantID)
				}
				r.mu.Unlock()
				if r.opts.OnError != nil {
					r.opts.OnError(sub.tenantID, fmt.Errorf("realtime channel down after %d attempts: %w", attempts, err))
				}
				return
			}
			delay := reconnectDelay(r.opts.BaseDelay, r.opts.MaxDelay, attempts-1)
			slog.Warn("realtime: connect failed, backing off",
				"tenant", sub.tenantID, "attempt", attempts, "delay", delay, "err", err)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		r.setState(sub, StateConnected)
		attempts = 0
		slog.Info("realtime: connected", "tenant", sub.tenantID)

		r.readLoop(ctx, sub, conn)
		conn.Close()
		r.setState(sub, StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		attempts++
		slog.Warn("realtime: connection closed, reconnecting", "tenant", sub.tenantID)
		if !sleepCtx(ctx, reconnectDelay(r.opts.BaseDelay, r.opts.MaxDelay, attempts-1)) {
			return
		}
	}
}

// readLoop delivers frames until the transport closes. Events are dispatched
// in transport order; delivery is at-least-once, so consumers upsert
// idempotently.
func (r *Registry) readLoop(ctx context.Context, sub *subscription, conn Conn) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		ev, err := Normalize(frame)
		if err != nil {
			slog.Warn("realtime: dropping frame", "tenant", sub.tenantID, "err", err)
			continue
		}
		if ev == nil {
			continue // heartbeat
		}
		for _, cb := range r.snapshotCallbacks(sub) {
			cb(*ev)
		}
	}
}

func (r *Registry) snapshotCallbacks(sub *subscription) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Callback, 0, len(sub.callbacks))
	for _, cb := range sub.callbacks {
		out = append(out, cb)
	}
	return out
}

func (r *Registry) setState(sub *subscription, state ConnState) {
	r.mu.Lock()
	sub.state = state
	r.mu.Unlock()
}

func (r *Registry) channelURL(tenantID string) string {
	return fmt.Sprintf("%s/v1/tenants/%s/events", r.baseURL, url.PathEscape(tenantID))
}

func reconnectDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// dialWebsocket is the production dialer.
func dialWebsocket(ctx context.Context, channelURL, apiKey string) (Conn, error) {
	var dialOpts *websocket.DialOptions
	if apiKey != "" {
		dialOpts = &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + apiKey}},
		}
	}
	c, _, err := websocket.Dial(ctx, channelURL, dialOpts)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
