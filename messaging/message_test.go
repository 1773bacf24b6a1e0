package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangeEvent(t *testing.T) {
	msg := NewChangeEvent("User", "user", OpCreated, "u1", map[string]any{"name": "Alice"})

	assert.NotEmpty(t, msg.GetID())
	assert.Equal(t, "user.created", msg.GetType())
	assert.Equal(t, "User", msg.GetMetadata()["model"])

	ev, ok := DecodeChangeEvent(msg)
	require.True(t, ok)
	assert.Equal(t, OpCreated, ev.Op)
	assert.Equal(t, "u1", ev.Key)
}

func TestCodec_RoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000).UTC()
	msg := NewChangeEvent("Post", "post", OpUpdated, float64(7), map[string]any{"title": "hi"})
	msg.Timestamp = ts

	data, err := Marshal(msg)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.GetID())
	assert.Equal(t, "post.updated", decoded.GetType())
	assert.Equal(t, ts, decoded.GetTimestamp())
	assert.Equal(t, "Post", decoded.GetMetadata()["model"])

	ev, ok := DecodeChangeEvent(decoded)
	require.True(t, ok)
	assert.Equal(t, ChangeEvent{
		Model:      "Post",
		Collection: "post",
		Op:         OpUpdated,
		Key:        float64(7),
		Changes:    map[string]any{"title": "hi"},
	}, ev)
}

func TestDecodeChangeEvent_Foreign(t *testing.T) {
	_, ok := DecodeChangeEvent(NewMessage("1", "other", "plain"))
	assert.False(t, ok)
}

func TestHandlers(t *testing.T) {
	var calls []string
	a := Handler("a", func(ctx context.Context, m IMessage) error { calls = append(calls, "a"); return nil })
	b := Handler("b", func(ctx context.Context, m IMessage) error { calls = append(calls, "b"); return nil })
	handlers := map[string][]IMessageHandler{
		"user.created": {a},
		WildcardType:   {b},
	}

	for _, h := range MatchHandlers(handlers, "user.created") {
		require.NoError(t, h.Handle(context.Background(), nil))
	}
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Len(t, MatchHandlers(handlers, "post.created"), 1)

	assert.True(t, RemoveHandler(handlers, "user.created", a))
	assert.False(t, RemoveHandler(handlers, "user.created", a))
	assert.Empty(t, handlers["user.created"])
}
