// Package reporting forwards error-level events to a configured webhook.
//
// The Reporter is both a zerolog sink (error-level log records are posted
// as they happen) and the delivery-failure collaborator used by the
// highlight engine. Posting is asynchronous: a bounded queue feeds one
// worker, and records are dropped rather than ever blocking a caller.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	logx "keywatch/pkg/logx"
)

type Config struct {
	// WebhookURL receives JSON payloads {"content": "..."}. Empty
	// disables the reporter (a warning is logged once at Start).
	WebhookURL string
	MinLevel   string
	RatePerSec int
}

type Reporter struct {
	cfg     Config
	url     string
	client  *http.Client
	limiter *rate.Limiter
	min     zerolog.Level

	mu  sync.Mutex
	log logx.Logger

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	min := logx.LevelError
	switch strings.ToUpper(strings.TrimSpace(cfg.MinLevel)) {
	case "WARN", "WARNING":
		min = logx.LevelWarn
	case "ERROR", "":
		min = logx.LevelError
	}
	return &Reporter{
		cfg:     cfg,
		url:     strings.TrimSpace(cfg.WebhookURL),
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		min:     min,
		log:     log,
		queue:   make(chan string, 256),
	}
}

// SetLogger swaps the logger used for the reporter's own diagnostics.
// Needed because the root logger is constructed after the reporter (the
// reporter is one of its sinks).
func (r *Reporter) SetLogger(log logx.Logger) {
	r.mu.Lock()
	r.log = log
	r.mu.Unlock()
}

func (r *Reporter) logger() logx.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log
}

func (r *Reporter) Enabled() bool { return r.url != "" }

// Start launches the posting worker. A reporter without a webhook URL
// starts fine and drops everything.
func (r *Reporter) Start(ctx context.Context) {
	if !r.Enabled() {
		r.logger().Warn("webhook URL is not present, not reporting errors")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.worker(ctx)
	}()
}

func (r *Reporter) Close() {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
		r.cancel = nil
	}
}

// Report surfaces one delivery failure with its full context. It is never
// retried and never escalates; the record reaches the webhook through the
// error-level log sink.
func (r *Reporter) Report(_ context.Context, channelID, userID int64, err error) {
	r.logger().Error("keyword notification failed",
		logx.Int64("channel_id", channelID),
		logx.Int64("user_id", userID),
		logx.Err(err))
}

func (r *Reporter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case content := <-r.queue:
			r.post(ctx, content)
		}
	}
}

type webhookMessage struct {
	Content string `json:"content"`
}

func (r *Reporter) post(ctx context.Context, content string) {
	body, err := json.Marshal(webhookMessage{Content: content})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.logger().Warn("failed to report error", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger().Warn("failed to report error", logx.Err(err))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.logger().Warn("failed to report error", logx.Int("status", resp.StatusCode))
	}
}

func (r *Reporter) enqueue(content string) {
	// Never block logging.
	select {
	case r.queue <- content:
	default:
		// drop
	}
}

// ---- zerolog sink ----

// Write implements io.Writer; without level information records default
// to info and are filtered out.
func (r *Reporter) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel forwards records at or above the configured minimum level,
// subject to rate limiting.
func (r *Reporter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if !r.Enabled() || level < r.min {
		return len(p), nil
	}
	if !r.limiter.Allow() {
		return len(p), nil
	}
	if msg := formatRecord(p); msg != "" {
		r.enqueue(msg)
	}
	return len(p), nil
}

// formatRecord renders a zerolog JSON line as readable webhook content.
func formatRecord(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 1900)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	for k, v := range m {
		switch k {
		case "time", "level", "message", "msg", "caller":
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(v), 400))
	}

	return truncate(b.String(), 1900)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
