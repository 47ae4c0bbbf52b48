package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher_Publish(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	ev := New(WalletCredited, 42, 0)
	require.NoError(t, pub.Publish(context.Background(), ev))

	entries := logs.FilterMessage("notification intent").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, WalletCredited, fields["type"])
	assert.Equal(t, int64(42), fields["user_id"])
}
