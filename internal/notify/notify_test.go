package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisNotifierAppends(t *testing.T) {
	client, _ := setupRedis(t)
	n := NewRedisNotifier(client, WithStream("test:notify"))

	err := n.Notify(t.Context(), action.Notification{
		TenantID: "acme", Channel: "email", To: "finance", Message: "Invoice INV-1 is over limit",
		RuleID: "large", RecordID: "inv-1",
	})
	require.NoError(t, err)

	msgs, err := client.XRange(t.Context(), "test:notify", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "finance", msgs[0].Values["to"])
	assert.Equal(t, "Invoice INV-1 is over limit", msgs[0].Values["message"])
	assert.Equal(t, "large", msgs[0].Values["rule_id"])
}

func TestRedisNotifierReportsOutage(t *testing.T) {
	client, mr := setupRedis(t)
	n := NewRedisNotifier(client)
	mr.Close()

	err := n.Notify(t.Context(), action.Notification{To: "finance", Message: "x"})
	assert.ErrorContains(t, err, "redis xadd "+DefaultStream)
}

func TestRedisNotifierMaxLen(t *testing.T) {
	client, _ := setupRedis(t)
	n := NewRedisNotifier(client, WithMaxLen(2))
	for range 5 {
		require.NoError(t, n.Notify(t.Context(), action.Notification{To: "ops", Message: "tick"}))
	}
	size, err := client.XLen(t.Context(), DefaultStream).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(5))
	assert.Positive(t, size)
}

func TestRedisMirror(t *testing.T) {
	client, _ := setupRedis(t)
	m := NewRedisMirror(client)

	require.NoError(t, m.MirrorHistory(t.Context(), ir.WorkflowHistoryEntry{
		ID: "h-1", InstanceID: "inst-1", Seq: 4, Event: ir.HistoryTransitioned, FromStateID: "draft", ToStateID: "sent",
	}))
	require.NoError(t, m.MirrorExecution(t.Context(), ir.AutomationExecution{
		ID: "x-1", RuleID: "large", Seq: 5, Status: ir.ExecutionSuccess,
	}))

	msgs, err := client.XRange(t.Context(), DefaultAuditStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "history", msgs[0].Values["kind"])
	assert.Equal(t, "4", msgs[0].Values["seq"])
	assert.Equal(t, "execution", msgs[1].Values["kind"])

	var exec ir.AutomationExecution
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &exec))
	assert.Equal(t, "large", exec.RuleID)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, n.Notify(t.Context(), action.Notification{To: "finance", Message: "hello"}))
	assert.Contains(t, buf.String(), "to=finance")
	assert.Contains(t, buf.String(), "message=hello")
}
