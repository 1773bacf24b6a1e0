package odm

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/data/document"
	"docodm/errors"
)

func newTaggedUser(t *testing.T, f *fixture) *Model {
	t.Helper()
	ctx := t.Context()
	user, err := f.db.Create(ctx, f.user, map[string]any{"name": "John"})
	require.NoError(t, err)
	_, err = user.EmbedsMany("tags").CreateMany(ctx, []map[string]any{
		{"name": "go", "weight": 2},
		{"name": "rust", "weight": 5},
		{"name": "zig", "weight": 1},
	})
	require.NoError(t, err)
	return user
}

func storedTags(t *testing.T, f *fixture, key any) []any {
	t.Helper()
	doc, err := f.client.Client.Collection("user").FindOne(t.Context(), document.Filter{"_id": key}, nil)
	require.NoError(t, err)
	require.NotNil(t, doc)
	tags, _ := doc["tags"].([]any)
	return tags
}

func TestEmbeddedMany_CreateManySavesParentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user, err := f.db.Create(ctx, f.user, map[string]any{"name": "John"})
	require.NoError(t, err)
	f.client.resetCalls()

	created, err := user.EmbedsMany("tags").CreateMany(ctx, []map[string]any{
		{"name": "a"}, {"name": "b"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, 1, f.client.Calls("user", "updateOne"))
	assert.Len(t, storedTags(t, f, user.Key()), 2)
	for _, e := range created {
		assert.True(t, e.IsPersisted())
		assert.Same(t, user, e.Parent())
		assert.Equal(t, "tags", e.Field())
	}
	assert.False(t, user.IsDirty())
}

func TestEmbeddedModel_DeleteByIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user := newTaggedUser(t, f)

	reloaded, err := f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	tags := reloaded.EmbedsMany("tags")
	rust := tags.At(1)
	zig := tags.At(2)
	assert.Equal(t, 2, zig.Index())

	require.NoError(t, rust.Delete(ctx))
	assert.Equal(t, -1, rust.Index())
	assert.False(t, rust.IsPersisted())
	assert.Equal(t, 1, zig.Index(), "位置按身份重新计算")

	zig.Set("weight", 9)
	require.NoError(t, zig.Save(ctx))

	stored := storedTags(t, f, user.Key())
	require.Len(t, stored, 2)
	assert.Equal(t, "go", stored[0].(map[string]any)["name"])
	assert.Equal(t, "zig", stored[1].(map[string]any)["name"])
	assert.Equal(t, 9, stored[1].(map[string]any)["weight"])

	err = rust.Save(ctx)
	assert.True(t, errors.IsNotFound(err), "已移除的元素不能再保存")
}

func TestEmbeddedModel_RefreshKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user := newTaggedUser(t, f)

	tag := user.EmbedsMany("tags").At(0)
	tag.Set("name", "changed")
	assert.True(t, user.IsDirty("tags"))

	require.NoError(t, tag.Refresh(ctx))
	assert.Equal(t, "go", tag.Get("name"))
	assert.Same(t, tag, user.EmbedsMany("tags").At(0))
	assert.False(t, user.IsDirty())
}

func TestEmbeddedMany_QueryAndEmbedViews(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user := newTaggedUser(t, f)

	heavy, err := user.EmbedsMany("tags").Query().
		Where("weight", ">", 1).
		OrderBy("weight", "desc").
		Get()
	require.NoError(t, err)
	require.Len(t, heavy, 2)
	assert.Equal(t, "rust", heavy[0].Get("name"))
	assert.Equal(t, "go", heavy[1].Get("name"))
	assert.Same(t, user.EmbedsMany("tags").At(1), heavy[0], "查询返回原实例")

	n, err := user.EmbedsMany("tags").Query().WhereIn("name", []string{"go", "zig"}).Limit(1).Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := user.EmbedsMany("tags").Query().WhereLike("name", "r%").First()
	require.NoError(t, err)
	assert.Equal(t, "rust", first.Get("name"))

	loaded, err := f.db.Query(f.user).
		Where("_id", user.Key()).
		Embed("tags", func(q *EmbeddedQueryBuilder) { q.Where("name", "go") }).
		Embed("details", nil).
		First(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	view := loaded.EmbedsMany("tags").Results()
	require.Len(t, view, 1)
	assert.Equal(t, "go", view[0].Get("name"))
	assert.Equal(t, 3, loaded.EmbedsMany("tags").Len(), "约束只影响视图")
	assert.False(t, loaded.IsDirty())
	assert.Nil(t, loaded.EmbedsOne("details").Result())
}

func TestEmbeddedOne_CreateFillSave(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user, err := f.db.Create(ctx, f.user, map[string]any{"name": "John"})
	require.NoError(t, err)

	details, err := user.EmbedsOne("details").Create(ctx, map[string]any{"firstName": "John", "lastName": "Doe"})
	require.NoError(t, err)
	assert.Equal(t, -1, details.Index())

	details.Fill(map[string]any{"bio": "gopher"})
	assert.True(t, user.IsDirty("details"))
	require.NoError(t, details.Save(ctx))

	byPath, err := f.db.Query(f.user).Where("details.bio", "gopher").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byPath)

	reloaded, err := f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	got := reloaded.EmbedsOne("details").Get()
	require.NotNil(t, got)
	assert.Equal(t, "John", got.Get("firstName"))
	assert.Equal(t, "gopher", got.Get("bio"))

	require.NoError(t, got.Delete(ctx))
	assert.Nil(t, reloaded.EmbedsOne("details").Get())
	again, err := f.db.Find(ctx, f.user, user.Key())
	require.NoError(t, err)
	assert.Nil(t, again.EmbedsOne("details").Get())
}

func TestEmbeddedModel_Hooks(t *testing.T) {
	reg := NewRegistry()
	var saved []string
	reg.Define("Note", func(d *Schema) {
		d.Column("title")
		d.EmbedsMany("items", reg.Ref("Item"))
	})
	reg.Define("Item", func(d *Schema) {
		d.Column("label")
		d.Hook(BeforeSave, "reject-empty", func(_ context.Context, m *Model) error {
			if m.Get("label") == "" {
				return ErrAbort
			}
			return nil
		})
		d.Hook(AfterSave, "record", func(_ context.Context, m *Model) error {
			saved = append(saved, m.Get("label").(string))
			return nil
		})
	})
	client := newCountingClient()
	db := New(client, reg)
	note, err := db.Create(t.Context(), reg.Metadata("Note"), map[string]any{"title": "n"})
	require.NoError(t, err)

	created, err := note.EmbedsMany("items").CreateMany(t.Context(), []map[string]any{
		{"label": "a"}, {"label": ""}, {"label": "b"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, 2, note.EmbedsMany("items").Len())
	assert.Equal(t, []string{"a", "b"}, saved)
}

func TestEmbeddedModel_ParentAbortSkipsEffects(t *testing.T) {
	reg := NewRegistry()
	locked := false
	var events []string
	reg.Define("Note", func(d *Schema) {
		d.Column("title")
		d.EmbedsMany("items", reg.Ref("Item"))
		d.Hook(BeforeSave, "lock", func(context.Context, *Model) error {
			if locked {
				return ErrAbort
			}
			return nil
		})
	})
	reg.Define("Item", func(d *Schema) {
		d.Column("label")
		d.Hook(AfterSave, "record", func(_ context.Context, m *Model) error {
			events = append(events, "afterSave:"+m.Get("label").(string))
			return nil
		})
		d.Hook(AfterDelete, "record", func(_ context.Context, m *Model) error {
			events = append(events, "afterDelete:"+m.Get("label").(string))
			return nil
		})
	})
	client := newCountingClient()
	db := New(client, reg)
	ctx := t.Context()
	note, err := db.Create(ctx, reg.Metadata("Note"), map[string]any{"title": "n"})
	require.NoError(t, err)
	items := note.EmbedsMany("items")
	_, err = items.CreateMany(ctx, []map[string]any{{"label": "a"}, {"label": "b"}})
	require.NoError(t, err)
	events = nil
	client.resetCalls()

	locked = true
	first := items.At(0)
	require.NoError(t, first.Delete(ctx))
	assert.True(t, first.IsPersisted())
	assert.Equal(t, 0, first.Index(), "中止后元素放回原位")
	assert.Equal(t, 2, items.Len())
	assert.False(t, note.IsDirty())
	removed, err := first.Model.Delete(ctx)
	require.NoError(t, err)
	assert.False(t, removed)

	first.Set("label", "a2")
	require.NoError(t, first.Save(ctx))

	created, err := items.CreateMany(ctx, []map[string]any{{"label": "c"}})
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Empty(t, events, "父文档中止时不执行后置钩子")
	assert.Zero(t, client.Calls("note", "updateOne"))

	locked = false
	require.NoError(t, first.Delete(ctx))
	assert.Equal(t, []string{"afterDelete:a2"}, events)
	stored, err := client.Client.Collection("note").FindOne(ctx, document.Filter{"_id": note.Key()}, nil)
	require.NoError(t, err)
	assert.Len(t, stored["items"], 2)
}

func TestEmbeddedModel_DeleteStoreFailureRestores(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	user := newTaggedUser(t, f)
	tags := user.EmbedsMany("tags")

	f.client.failOn("updateOne", stdErrors.New("connection reset"))
	second := tags.At(1)
	err := second.Delete(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeDatabase))
	assert.Equal(t, 1, second.Index())
	assert.Equal(t, 3, tags.Len())
	assert.True(t, second.IsPersisted())
	assert.False(t, user.IsDirty(), "失败后父文档不残留脏字段")
	assert.Len(t, storedTags(t, f, user.Key()), 3)

	f.client.failOn("updateOne", nil)
	require.NoError(t, second.Delete(ctx), "失败后可以重试")
	assert.Equal(t, 2, tags.Len())
	assert.Equal(t, -1, second.Index())
	assert.Len(t, storedTags(t, f, user.Key()), 2)
}

func TestEmbeddedMany_CreateManyHookErrorRollsBack(t *testing.T) {
	reg := NewRegistry()
	reg.Define("Note", func(d *Schema) {
		d.Column("title")
		d.EmbedsMany("items", reg.Ref("Item"))
	})
	reg.Define("Item", func(d *Schema) {
		d.Column("label")
		d.Hook(BeforeSave, "validate", func(_ context.Context, m *Model) error {
			if m.Get("label") == "bad" {
				return stdErrors.New("invalid label")
			}
			return nil
		})
	})
	client := newCountingClient()
	db := New(client, reg)
	ctx := t.Context()
	note, err := db.Create(ctx, reg.Metadata("Note"), map[string]any{"title": "n"})
	require.NoError(t, err)
	items := note.EmbedsMany("items")
	_, err = items.Create(ctx, map[string]any{"label": "keep"})
	require.NoError(t, err)
	client.resetCalls()

	created, err := items.CreateMany(ctx, []map[string]any{{"label": "a"}, {"label": "bad"}})
	require.Error(t, err)
	assert.Nil(t, created)
	assert.Equal(t, 1, items.Len(), "整批撤回")
	assert.Equal(t, "keep", items.At(0).Get("label"))
	assert.False(t, note.IsDirty())
	assert.Zero(t, client.Calls("note", "updateOne"))
}
