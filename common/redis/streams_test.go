package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndReadStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	stream := "surgical:alerts:stream"

	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "dashboard"))
	// 重复创建应被忽略
	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "dashboard"))

	id, err := PublishJSONToStream(ctx, client, stream, 100, map[string]string{"id": "FORCE_SPIKE_1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := ReadFromStream(ctx, client, stream, "dashboard", "reader-1", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(messages[0].Values["data"].(string)), &payload))
	assert.Equal(t, "FORCE_SPIKE_1", payload["id"])
}

func TestAckMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	stream := "surgical:alerts:stream"
	require.NoError(t, CreateConsumerGroup(ctx, client, stream, "notifier"))

	_, err := PublishJSONToStream(ctx, client, stream, 0, map[string]string{"id": "A"})
	require.NoError(t, err)
	messages, err := ReadFromStream(ctx, client, stream, "notifier", "n-1", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, AckMessages(ctx, client, stream, "notifier", messages[0].ID))
	require.NoError(t, AckMessages(ctx, client, stream, "notifier"))

	pending, err := client.XPending(ctx, stream, "notifier").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
