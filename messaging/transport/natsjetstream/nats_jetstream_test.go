package natsjetstream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/errors"
	"docodm/messaging"
)

func TestNewTransport_Defaults(t *testing.T) {
	tpt := NewTransport(Config{})
	assert.Equal(t, "DOCODM", tpt.cfg.Stream)
	assert.Equal(t, "docodm.", tpt.cfg.SubjectPrefix)
	assert.Equal(t, 30*time.Second, tpt.cfg.AckWait)
	assert.Equal(t, "docodm.user.created", tpt.subjectName("user.created"))
	assert.Equal(t, "docodm.>", tpt.subjectName(messaging.WildcardType))
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "docodm-user_created", durableName("docodm-", "user.created"))
	assert.Equal(t, "docodm-all", durableName("docodm-", "*"))
}

func TestStreamConfig(t *testing.T) {
	sc := streamConfig(Config{Stream: "S", SubjectPrefix: "p.", Retention: "WorkQueue", MaxAge: time.Hour, Replicas: 3})
	assert.Equal(t, "S", sc.Name)
	assert.Equal(t, []string{"p.>"}, sc.Subjects)
	assert.Equal(t, nats.WorkQueuePolicy, sc.Retention)
	assert.Equal(t, time.Hour, sc.MaxAge)
	assert.Equal(t, 3, sc.Replicas)

	assert.Equal(t, nats.LimitsPolicy, streamConfig(Config{}).Retention)
}

func TestPublish_NotRunning(t *testing.T) {
	tpt := NewTransport(Config{})
	err := tpt.Publish(context.Background(), messaging.NewChangeEvent("User", "user", messaging.OpCreated, "u1", nil))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQueue))
}

func TestSubscribe_Stats(t *testing.T) {
	tpt := NewTransport(Config{})
	h := messaging.Handler("h", func(ctx context.Context, m messaging.IMessage) error { return nil })
	require.NoError(t, tpt.Subscribe("user.created", h))
	require.NoError(t, tpt.Subscribe("*", h))

	stats := tpt.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 2, stats.HandlerCount)
	assert.Equal(t, []string{"*", "user.created"}, stats.MessageTypes)

	require.NoError(t, tpt.Unsubscribe("user.created", h))
	assert.Equal(t, 1, tpt.Stats().HandlerCount)
	require.NoError(t, tpt.Close())
}
