// Package mirror copies attendance activity to the remote document store.
//
// Only lecturer usage counters and per-session metadata are written; no student
// identity leaves the local database. Sync and display calls are best effort and
// report a remote.Result or nothing instead of an error; the maintenance calls in
// maintenance.go return errors to the operator.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusattend/internal/remote"
)

const (
	usageCollection   = "lecturer_usage"
	sessionCollection = "sessions"
	usageCountField   = "usage_count"
	sessionCountField = "attendance_count"
	defaultTimeout    = 10 * time.Second
)

// ErrDocNotFound is returned by Backend.Get for a missing document.
var ErrDocNotFound = errors.New("document not found")

// Backend is the document store surface the mirror needs. Paths alternate
// collection and document ids.
type Backend interface {
	Merge(ctx context.Context, path []string, fields map[string]any) error
	Get(ctx context.Context, path []string) (map[string]any, error)
	Increment(ctx context.Context, path []string, field string, n int64) error
	SessionDocs(ctx context.Context, sessionID string, limit int) ([]map[string]any, error)
	Delete(ctx context.Context, path []string) error
	Close() error
}

// Dialer opens a Backend. It runs at most once per Client.
type Dialer func(ctx context.Context) (Backend, error)

// Payload is what the mirror records for one attendance mark.
type Payload struct {
	LecturerID   string
	LecturerName string
	UnitCode     string
	UnitName     string
	Venue        string
	Timestamp    time.Time
}

// Diagnosis is reported by the status probe.
type Diagnosis struct {
	Connected bool   `json:"connected"`
	Source    string `json:"source,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// Client is an explicitly constructed, lazily connected mirror.
type Client struct {
	dial    Dialer
	source  string
	timeout time.Duration
	log     *zap.Logger

	once    sync.Once
	backend Backend
	dialErr error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithSource records where credentials came from, for diagnostics.
func WithSource(s string) Option { return func(c *Client) { c.source = s } }

// New builds a client. Nothing is dialed until first use.
func New(dial Dialer, opts ...Option) *Client {
	c := &Client{dial: dial, timeout: defaultTimeout, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Disabled returns a client that never connects.
func Disabled(reason error) *Client {
	return New(func(context.Context) (Backend, error) { return nil, reason })
}

// connect dials once. A failed dial leaves the client disconnected for good.
func (c *Client) connect() (Backend, error) {
	c.once.Do(func() {
		if c.dial == nil {
			c.dialErr = errors.New("mirror not configured")
			return
		}
		// not tied to a caller context: the outcome is shared by every later call
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.backend, c.dialErr = c.dial(ctx)
		if c.dialErr == nil && c.backend == nil {
			c.dialErr = errors.New("mirror dial returned no backend")
		}
		if c.dialErr != nil {
			c.log.Warn("document mirror unavailable", zap.String("source", c.source), zap.Error(c.dialErr))
			return
		}
		c.log.Info("document mirror connected", zap.String("source", c.source))
	})
	return c.backend, c.dialErr
}

// IsConnected reports whether the backend was opened.
func (c *Client) IsConnected(context.Context) bool {
	_, err := c.connect()
	return err == nil
}

// Record updates the lecturer usage counter and the session metadata document.
func (c *Client) Record(ctx context.Context, sessionID string, p Payload) remote.Result {
	b, err := c.connect()
	if err != nil {
		return remote.Skip("document mirror not connected: " + err.Error())
	}
	if p.LecturerID == "" || sessionID == "" {
		return remote.Fail(remote.KindRejected, "lecturer and session ids are required")
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	lecturerDoc := []string{usageCollection, p.LecturerID}
	if err := b.Merge(ctx, lecturerDoc, map[string]any{
		"lecturer_name": p.LecturerName,
		"last_active":   p.Timestamp,
	}); err != nil {
		return c.fail("merge lecturer usage", err)
	}

	if err := c.increment(ctx, b, lecturerDoc, usageCountField); err != nil {
		return c.fail("update usage count", err)
	}

	sessionDoc := sessionPath(p.LecturerID, sessionID)
	if err := b.Merge(ctx, sessionDoc, map[string]any{
		"session_id": sessionID,
		"unit_code":  p.UnitCode,
		"unit_name":  p.UnitName,
		"venue":      p.Venue,
		"timestamp":  p.Timestamp,
	}); err != nil {
		return c.fail("merge session metadata", err)
	}
	if err := c.increment(ctx, b, sessionDoc, sessionCountField); err != nil {
		return c.fail("update session attendance count", err)
	}
	return remote.OK(p.LecturerID, "lecturer usage updated")
}

// increment adds one to field atomically, falling back to read-modify-write when
// the backend cannot apply transforms.
func (c *Client) increment(ctx context.Context, b Backend, path []string, field string) error {
	err := b.Increment(ctx, path, field, 1)
	if err == nil {
		return nil
	}
	c.log.Warn("atomic increment failed, falling back to read-modify-write",
		zap.Strings("path", path), zap.String("field", field), zap.Error(err))
	return bump(ctx, b, path, field)
}

// bump is the non-atomic fallback; concurrent writers may lose an increment.
func bump(ctx context.Context, b Backend, path []string, field string) error {
	var current int64
	doc, err := b.Get(ctx, path)
	switch {
	case errors.Is(err, ErrDocNotFound):
	case err != nil:
		return err
	default:
		current = toInt64(doc[field])
	}
	return b.Merge(ctx, path, map[string]any{field: current + 1})
}

// FetchForSession returns session metadata documents for display. Failures yield nil.
func (c *Client) FetchForSession(ctx context.Context, sessionID string) []map[string]any {
	b, err := c.connect()
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	docs, err := b.SessionDocs(ctx, sessionID, 100)
	if err != nil {
		c.log.Warn("fetch session documents", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return docs
}

// AlreadyMarked is the remote duplicate check. The usage schema keeps no per-student
// marks, so the answer is always false and the local unique constraint decides.
func (c *Client) AlreadyMarked(context.Context, string, string) bool {
	return false
}

// Diagnose probes the backend with a read of a sentinel document.
func (c *Client) Diagnose(ctx context.Context) Diagnosis {
	d := Diagnosis{Source: c.source}
	b, err := c.connect()
	if err != nil {
		d.Error = err.Error()
		return d
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	_, err = b.Get(ctx, []string{"_diagnostics", "ping"})
	d.LatencyMS = time.Since(start).Milliseconds()
	if err != nil && !errors.Is(err, ErrDocNotFound) {
		d.Error = err.Error()
		return d
	}
	d.Connected = true
	return d
}

// Close releases the backend if one was opened. A client closed before first use never dials.
func (c *Client) Close() error {
	c.once.Do(func() { c.dialErr = errors.New("mirror closed") })
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Client) fail(op string, err error) remote.Result {
	c.log.Warn("document mirror write failed", zap.String("op", op), zap.Error(err))
	return remote.Fail(classify(err), "%s: %v", op, err)
}

func classify(err error) remote.Kind {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return remote.KindTimeout
	case codes.Unavailable:
		return remote.KindConnection
	case codes.PermissionDenied, codes.Unauthenticated, codes.InvalidArgument, codes.FailedPrecondition:
		return remote.KindRejected
	}
	return remote.Classify(err)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		var out int64
		_, _ = fmt.Sscan(fmt.Sprint(n), &out)
		return out
	}
}
