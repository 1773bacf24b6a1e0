package sync

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/errors"
	"docodm/messaging"
)

func TestTransport_PublishFlow(t *testing.T) {
	ctx := context.Background()
	tpt := NewTransport()
	require.NoError(t, tpt.Start(ctx))
	defer tpt.Close()

	var created, all int
	onCreated := messaging.Handler("created", func(ctx context.Context, m messaging.IMessage) error { created++; return nil })
	require.NoError(t, tpt.Subscribe("user.created", onCreated))
	require.NoError(t, tpt.Subscribe(messaging.WildcardType, messaging.Handler("all", func(ctx context.Context, m messaging.IMessage) error {
		all++
		return nil
	})))

	require.NoError(t, tpt.PublishAll(ctx, []messaging.IMessage{
		messaging.NewChangeEvent("User", "user", messaging.OpCreated, "u1", nil),
		messaging.NewChangeEvent("User", "user", messaging.OpDeleted, "u1", nil),
	}))
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, all)

	stats := tpt.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.HandlerCount)
	assert.Equal(t, []string{"*", "user.created"}, stats.MessageTypes)

	require.NoError(t, tpt.Unsubscribe("user.created", onCreated))
	assert.Error(t, tpt.Unsubscribe("user.created", onCreated))
}

func TestTransport_HandlerErrors(t *testing.T) {
	ctx := context.Background()
	tpt := NewTransport()
	require.NoError(t, tpt.Start(ctx))

	boom := stdErrors.New("boom")
	require.NoError(t, tpt.Subscribe("x", messaging.Handler("bad", func(ctx context.Context, m messaging.IMessage) error { return boom })))

	err := tpt.Publish(ctx, messaging.NewMessage("1", "x", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQueue))
}

func TestTransport_NotRunning(t *testing.T) {
	tpt := NewTransport()
	assert.Error(t, tpt.Publish(context.Background(), messaging.NewMessage("x", "T", nil)))
	require.NoError(t, tpt.Start(context.Background()))
	assert.Error(t, tpt.Start(context.Background()))
}
