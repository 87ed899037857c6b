package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		mult    float64
		attempt int
		want    time.Duration
	}{
		{name: "defaults first attempt", attempt: 0, want: 100 * time.Millisecond},
		{name: "defaults third attempt", attempt: 2, want: 400 * time.Millisecond},
		{name: "custom multiplier", base: time.Second, mult: 1.5, attempt: 2, want: 2250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(tt.base, tt.mult, tt.attempt))
		})
	}
}

func TestPublish_NotConnected(t *testing.T) {
	client := &Client{
		config: &Config{ExchangeName: "job_events"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := client.Publish(context.Background(), "succeeded", []byte(`{}`), "application/json")
	assert.ErrorContains(t, err, "not connected")
	assert.False(t, client.IsConnected())
	assert.ErrorContains(t, client.HealthCheck(context.Background()), "connection is closed")
}
