// Package notify delivers send-notification actions and mirrors the ledger
// to Redis streams.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Default stream names.
const (
	DefaultStream      = "buildify:notifications"
	DefaultAuditStream = "buildify:audit"
)

// RedisNotifier appends notifications to a Redis stream. Delivery to the
// final channel (mail, chat, in-app) is the consumer's job.
type RedisNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisOption configures the Redis notifier and mirror.
type RedisOption func(*redisConfig)

type redisConfig struct {
	stream string
	maxLen int64
}

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(c *redisConfig) {
		c.stream = stream
	}
}

// WithMaxLen caps the stream approximately. Zero leaves it unbounded.
func WithMaxLen(n int64) RedisOption {
	return func(c *redisConfig) {
		c.maxLen = n
	}
}

func newRedisConfig(stream string, opts []RedisOption) redisConfig {
	c := redisConfig{stream: stream}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewRedisNotifier creates a notifier writing to DefaultStream unless
// WithStream says otherwise.
func NewRedisNotifier(client *redis.Client, opts ...RedisOption) *RedisNotifier {
	c := newRedisConfig(DefaultStream, opts)
	return &RedisNotifier{client: client, stream: c.stream, maxLen: c.maxLen}
}

// Notify implements action.Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, msg action.Notification) error {
	err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: n.maxLen > 0,
		Values: map[string]any{
			"tenant_id":  msg.TenantID,
			"channel":    msg.Channel,
			"to":         msg.To,
			"subject":    msg.Subject,
			"message":    msg.Message,
			"rule_id":    msg.RuleID,
			"record_id":  msg.RecordID,
			"flow_token": msg.FlowToken,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", n.stream, err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log. It is the
// notifier when no Redis address is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements action.Notifier.
func (n LogNotifier) Notify(ctx context.Context, msg action.Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"tenant_id", msg.TenantID,
		"channel", msg.Channel,
		"to", msg.To,
		"message", msg.Message,
		"rule_id", msg.RuleID,
		"record_id", msg.RecordID,
	)
	return nil
}

// RedisMirror copies ledger entries to a Redis stream as JSON. It
// implements recorder.Mirror.
type RedisMirror struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisMirror creates a ledger mirror writing to DefaultAuditStream
// unless WithStream says otherwise.
func NewRedisMirror(client *redis.Client, opts ...RedisOption) *RedisMirror {
	c := newRedisConfig(DefaultAuditStream, opts)
	return &RedisMirror{client: client, stream: c.stream, maxLen: c.maxLen}
}

// MirrorHistory appends a workflow history entry.
func (m *RedisMirror) MirrorHistory(ctx context.Context, entry ir.WorkflowHistoryEntry) error {
	return m.add(ctx, "history", entry.ID, entry.Seq, entry)
}

// MirrorExecution appends an automation execution.
func (m *RedisMirror) MirrorExecution(ctx context.Context, exec ir.AutomationExecution) error {
	return m.add(ctx, "execution", exec.ID, exec.Seq, exec)
}

func (m *RedisMirror) add(ctx context.Context, kind, id string, seq int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	err = m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: m.maxLen > 0,
		Values: map[string]any{"kind": kind, "id": id, "seq": seq, "data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", m.stream, err)
	}
	return nil
}
