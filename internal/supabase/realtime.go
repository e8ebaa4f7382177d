package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/vetclinic/pkg/logger"
)

// Subscription selects postgres changes to stream.
type Subscription struct {
	// Event is INSERT, UPDATE, DELETE or *.
	Event  string
	Schema string
	Table  string
	// Filter is a PostgREST style filter such as "status=eq.pending_scheduling".
	Filter string
}

func (s Subscription) withDefaults() Subscription {
	if s.Event == "" {
		s.Event = "*"
	}
	if s.Schema == "" {
		s.Schema = "public"
	}
	return s
}

func (s Subscription) topic() string {
	return "realtime:" + s.Schema + ":" + s.Table
}

// Change is one postgres_changes event.
type Change struct {
	Type      string
	Schema    string
	Table     string
	Record    gjson.Result
	OldRecord gjson.Result
	CommitAt  time.Time
}

// ChangeHandler receives changes in arrival order.
type ChangeHandler func(ctx context.Context, change Change)

// Realtime streams database changes over the Phoenix websocket protocol.
type Realtime struct {
	url       string
	apiKey    string
	dialer    *websocket.Dialer
	heartbeat time.Duration
	backoff   time.Duration
	log       *logger.Logger
	ref       int64
	refMu     sync.Mutex
}

// RealtimeOption tunes a Realtime client.
type RealtimeOption func(*Realtime)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.heartbeat = d }
}

// WithReconnectDelay overrides the initial reconnect delay.
func WithReconnectDelay(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.backoff = d }
}

// NewRealtime derives the websocket endpoint from the project URL.
func NewRealtime(projectURL, apiKey string, log *logger.Logger, opts ...RealtimeOption) (*Realtime, error) {
	u, err := url.Parse(strings.TrimSuffix(projectURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if log == nil {
		log = logger.NewDefault("supabase-realtime")
	}
	r := &Realtime{
		url:       u.String(),
		apiKey:    apiKey,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		heartbeat: 25 * time.Second,
		backoff:   time.Second,
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Realtime) nextRef() string {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	r.ref++
	return strconv.FormatInt(r.ref, 10)
}

// Listen subscribes and delivers changes until ctx is cancelled, redialling
// with exponential backoff when the connection drops.
func (r *Realtime) Listen(ctx context.Context, sub Subscription, handler ChangeHandler) error {
	sub = sub.withDefaults()
	delay := r.backoff
	for {
		err := r.session(ctx, sub, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = r.backoff
		}
		r.log.WithError(err).WithField("table", sub.Table).WithField("retry_in", delay).Warn("realtime connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < time.Minute {
			delay *= 2
		}
	}
}

type phoenixMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
	JoinRef string `json:"join_ref,omitempty"`
}

func (r *Realtime) joinMessage(sub Subscription, ref string) phoenixMessage {
	change := map[string]string{"event": sub.Event, "schema": sub.Schema, "table": sub.Table}
	if sub.Filter != "" {
		change["filter"] = sub.Filter
	}
	return phoenixMessage{
		Topic: sub.topic(),
		Event: "phx_join",
		Payload: map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{change},
			},
			"access_token": r.apiKey,
		},
		Ref:     ref,
		JoinRef: ref,
	}
}

// session runs one connection. It returns nil when the server closed the
// socket cleanly.
func (r *Realtime) session(ctx context.Context, sub Subscription, handler ChangeHandler) error {
	conn, resp, err := r.dialer.DialContext(ctx, r.url, http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg phoenixMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	joinRef := r.nextRef()
	if err := write(r.joinMessage(sub, joinRef)); err != nil {
		return fmt.Errorf("join %s: %w", sub.topic(), err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				hb := phoenixMessage{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: r.nextRef()}
				if err := write(hb); err != nil {
					r.log.WithError(err).Debug("realtime heartbeat failed")
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if sessionCtx.Err() != nil {
				return nil
			}
			return err
		}
		msg := gjson.ParseBytes(data)
		switch msg.Get("event").String() {
		case "phx_reply":
			if msg.Get("ref").String() == joinRef {
				if status := msg.Get("payload.status").String(); status != "ok" {
					return fmt.Errorf("join %s rejected: %s", sub.topic(), msg.Get("payload.response").Raw)
				}
				r.log.WithField("topic", sub.topic()).Info("realtime subscription joined")
			}
		case "phx_error":
			return errors.New("realtime channel error")
		case "postgres_changes":
			change, ok := parseChange(msg.Get("payload.data"))
			if ok {
				handler(ctx, change)
			}
		}
	}
}

func parseChange(data gjson.Result) (Change, bool) {
	if !data.Exists() {
		return Change{}, false
	}
	change := Change{
		Type:      data.Get("type").String(),
		Schema:    data.Get("schema").String(),
		Table:     data.Get("table").String(),
		Record:    data.Get("record"),
		OldRecord: data.Get("old_record"),
	}
	if ts := data.Get("commit_timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			change.CommitAt = t.UTC()
		}
	}
	return change, change.Type != ""
}
