package sqlite

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/data/document"
	"docodm/errors"
)

func openMemory(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), document.ConnectionConfig{Driver: document.DriverSQLite, Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	c := openMemory(t)
	users := c.Collection("users")

	id, err := users.InsertOne(ctx, document.Document{"name": "Alice", "age": 30, "tags": []string{"a"}})
	require.NoError(t, err)
	require.IsType(t, "", id)

	_, err = users.InsertOne(ctx, document.Document{"_id": 7, "name": "Bob", "age": 41.5})
	require.NoError(t, err)

	_, err = users.InsertOne(ctx, document.Document{"_id": 7})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(errors.Normalize(err), errors.ErrCodeDuplicate))

	doc, err := users.FindOne(ctx, document.Filter{"_id": id}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", doc["name"])
	assert.Equal(t, int64(30), doc["age"])
	assert.Equal(t, []any{"a"}, doc["tags"])

	bob, err := users.FindOne(ctx, document.Filter{"_id": 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, 41.5, bob["age"])
	assert.Equal(t, int64(7), bob["_id"])

	n, err := users.UpdateMany(ctx, document.Filter{"age": document.Filter{"$gt": 18}}, document.Update{
		Set:   document.Document{"adult": true},
		Unset: []string{"tags"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	docs, err := users.Find(ctx, document.Filter{"adult": true}, &document.FindOptions{
		Sort: []document.SortField{{Field: "age", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Bob", docs[0]["name"])
	assert.NotContains(t, docs[1], "tags")

	count, err := users.CountDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	values, err := users.Distinct(ctx, "name", document.Filter{"_id": document.Filter{"$in": []any{id, 7}}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"Alice", "Bob"}, values)

	n, err = users.DeleteOne(ctx, document.Filter{"name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	missing, err := users.FindOne(ctx, document.Filter{"name": "Bob"}, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCollection_InvalidName(t *testing.T) {
	c := openMemory(t)
	_, err := c.Collection("users; DROP TABLE x").InsertOne(context.Background(), document.Document{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestSession_Transaction(t *testing.T) {
	ctx := context.Background()
	c := openMemory(t)
	orders := c.Collection("orders")

	sess, err := c.StartSession(ctx)
	require.NoError(t, err)
	defer sess.EndSession(ctx)

	boom := stdErrors.New("boom")
	err = sess.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := orders.InsertOne(txCtx, document.Document{"_id": "o1"}); err != nil {
			return err
		}
		n, err := orders.CountDocuments(txCtx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)

	n, err := orders.CountDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	err = sess.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := orders.InsertOne(txCtx, document.Document{"_id": "o2", "total": 10})
		if err != nil {
			return err
		}
		_, err = orders.UpdateOne(txCtx, document.Filter{"_id": "o2"}, document.Update{Set: document.Document{"total": 12}})
		return err
	}, &document.TxOptions{RetryTimeout: time.Second})
	require.NoError(t, err)

	doc, err := orders.FindOne(ctx, document.Filter{"_id": "o2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), doc["total"])
}

func TestOpen_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.db")

	client, err := document.Open(ctx, document.ConnectionConfig{Driver: document.DriverSQLite, Database: path})
	require.NoError(t, err)
	_, err = client.Collection("notes").InsertOne(ctx, document.Document{"_id": "n1", "body": "hello"})
	require.NoError(t, err)
	require.NoError(t, client.Close(ctx))

	reopened, err := document.Open(ctx, document.ConnectionConfig{Driver: document.DriverSQLite, Database: path})
	require.NoError(t, err)
	defer reopened.Close(ctx)
	doc, err := reopened.Collection("notes").FindOne(ctx, document.Filter{"_id": "n1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc["body"])
}

func TestPushdownID(t *testing.T) {
	eq, ok := pushdownID(document.Filter{"_id": "a"})
	assert.True(t, ok)
	assert.Equal(t, "a", eq["id"])

	eq, ok = pushdownID(document.Filter{"_id": document.Filter{"$in": []any{"a", 2}}})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "2"}, eq["id"])

	_, ok = pushdownID(document.Filter{"_id": document.Filter{"$gt": "a"}})
	assert.False(t, ok)
	_, ok = pushdownID(document.Filter{"name": "a"})
	assert.False(t, ok)
}
