package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	rediscommon "wisefido-surgical/common/redis"
	"wisefido-surgical/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookClient_Send(t *testing.T) {
	var received AlertNotification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, time.Second, zap.NewNop())
	alert := models.SafetyAlert{ID: "EMERGENCY_STOP", EventID: "evt-1", Severity: models.SeverityCritical}

	require.NoError(t, client.Send(context.Background(), alert))
	assert.Equal(t, "wisefido-surgical", received.Source)
	assert.Equal(t, "evt-1", received.Alert.EventID)
}

func TestWebhookClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, time.Second, zap.NewNop())
	err := client.Send(context.Background(), models.SafetyAlert{ID: "X"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	failID string
}

func (s *recordingSender) Send(_ context.Context, alert models.SafetyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.EventID == s.failID {
		return errors.New("webhook down")
	}
	s.sent = append(s.sent, alert.EventID)
	return nil
}

func TestStreamForwarder_ConsumeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	stream := "surgical:alerts:stream"
	sender := &recordingSender{failID: "evt-fail"}
	f := NewStreamForwarder(client, stream, "notifier", "n-1", sender, models.SeverityHigh, zap.NewNop())
	f.block = time.Millisecond
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, stream, "notifier"))

	for _, a := range []models.SafetyAlert{
		{EventID: "evt-low", Severity: models.SeverityLow},
		{EventID: "evt-high", Severity: models.SeverityHigh},
		{EventID: "evt-critical", Severity: models.SeverityCritical},
		{EventID: "evt-fail", Severity: models.SeverityCritical},
	} {
		_, err := rediscommon.PublishJSONToStream(ctx, client, stream, 0, a)
		require.NoError(t, err)
	}
	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"data": "{broken"}}).Result()
	require.NoError(t, err)

	sent, err := f.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"evt-high", "evt-critical"}, sender.sent)

	pending, err := client.XPending(ctx, stream, "notifier").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestNewStreamForwarder_DefaultSeverity(t *testing.T) {
	f := NewStreamForwarder(nil, "s", "g", "c", &recordingSender{}, models.Severity(""), zap.NewNop())
	assert.Equal(t, models.SeverityHigh, f.minSeverity)
}
