package odm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"docodm/data/document"
	"docodm/data/document/memory"
	"docodm/logging"
)

// countingClient 记录每个集合上各操作的调用次数
type countingClient struct {
	*memory.Client

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newCountingClient() *countingClient {
	return &countingClient{Client: memory.NewClient(), calls: make(map[string]int), fail: make(map[string]error)}
}

// failOn 使后续该操作直接返回 err；err 为 nil 时恢复正常
func (c *countingClient) failOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

func (c *countingClient) failure(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail[op]
}

func (c *countingClient) Collection(name string) document.ICollection {
	return &countingCollection{ICollection: c.Client.Collection(name), client: c}
}

func (c *countingClient) record(collection, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[collection+"."+op]++
}

// Calls 某集合某操作的调用次数
func (c *countingClient) Calls(collection, op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[collection+"."+op]
}

func (c *countingClient) resetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
}

type countingCollection struct {
	document.ICollection
	client *countingClient
}

func (c *countingCollection) InsertOne(ctx context.Context, doc document.Document) (any, error) {
	c.client.record(c.Name(), "insertOne")
	return c.ICollection.InsertOne(ctx, doc)
}

func (c *countingCollection) UpdateOne(ctx context.Context, f document.Filter, u document.Update) (int64, error) {
	c.client.record(c.Name(), "updateOne")
	if err := c.client.failure("updateOne"); err != nil {
		return 0, err
	}
	return c.ICollection.UpdateOne(ctx, f, u)
}

func (c *countingCollection) UpdateMany(ctx context.Context, f document.Filter, u document.Update) (int64, error) {
	c.client.record(c.Name(), "updateMany")
	return c.ICollection.UpdateMany(ctx, f, u)
}

func (c *countingCollection) DeleteOne(ctx context.Context, f document.Filter) (int64, error) {
	c.client.record(c.Name(), "deleteOne")
	return c.ICollection.DeleteOne(ctx, f)
}

func (c *countingCollection) DeleteMany(ctx context.Context, f document.Filter) (int64, error) {
	c.client.record(c.Name(), "deleteMany")
	return c.ICollection.DeleteMany(ctx, f)
}

func (c *countingCollection) Find(ctx context.Context, f document.Filter, opts *document.FindOptions) ([]document.Document, error) {
	c.client.record(c.Name(), "find")
	return c.ICollection.Find(ctx, f, opts)
}

func (c *countingCollection) FindOne(ctx context.Context, f document.Filter, opts *document.FindOptions) (document.Document, error) {
	c.client.record(c.Name(), "findOne")
	return c.ICollection.FindOne(ctx, f, opts)
}

func (c *countingCollection) CountDocuments(ctx context.Context, f document.Filter) (int64, error) {
	c.client.record(c.Name(), "count")
	return c.ICollection.CountDocuments(ctx, f)
}

// schema 测试用模型集合
type schema struct {
	reg     *Registry
	user    *ModelMeta
	profile *ModelMeta
	post    *ModelMeta
	details *ModelMeta
	tag     *ModelMeta
}

// newSchema extra 在 User 声明末尾追加定义（钩子等）
func newSchema(extra ...func(d *Schema)) *schema {
	reg := NewRegistry()
	s := &schema{reg: reg}
	s.user = reg.Define("User", func(d *Schema) {
		d.Column("name")
		d.Column("emailAddress")
		d.Column("age")
		d.Column("password", Hidden())
		d.Date("birthday")
		d.HasOne("profile", reg.Ref("Profile"))
		d.HasMany("posts", reg.Ref("Post"))
		d.EmbedsOne("details", reg.Ref("Details"))
		d.EmbedsMany("tags", reg.Ref("Tag"))
		d.Computed("displayName", func(m *Model) any {
			return fmt.Sprintf("%v <%v>", m.Get("name"), m.Get("emailAddress"))
		})
		d.Timestamps()
		for _, fn := range extra {
			fn(d)
		}
	})
	s.profile = reg.Define("Profile", func(d *Schema) {
		d.Column("userId")
		d.Column("firstName")
		d.Column("lastName")
		d.BelongsTo("user", reg.Ref("User"))
	})
	s.post = reg.Define("Post", func(d *Schema) {
		d.Column("userId")
		d.Column("title")
		d.Column("views")
		d.BelongsTo("user", reg.Ref("User"))
	})
	s.details = reg.Define("Details", func(d *Schema) {
		d.Column("firstName")
		d.Column("lastName")
		d.Column("bio")
	})
	s.tag = reg.Define("Tag", func(d *Schema) {
		d.Column("name")
		d.Column("weight")
	})
	return s
}

type fixture struct {
	*schema
	client *countingClient
	db     *DB
	clock  time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith 允许在 User 上追加声明
func newFixtureWith(t *testing.T, extra func(d *Schema), opts ...Option) *fixture {
	t.Helper()
	var defs []func(d *Schema)
	if extra != nil {
		defs = append(defs, extra)
	}
	f := &fixture{
		schema: newSchema(defs...),
		client: newCountingClient(),
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	base := []Option{
		WithLogger(logging.NewNoopLogger()),
		WithClock(func() time.Time { return f.clock }),
	}
	f.db = New(f.client, f.reg, append(base, opts...)...)
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

// seedUsers 依次创建 n 个用户：name=user01..，age=20+i%5
func (f *fixture) seedUsers(t *testing.T, n int) []*Model {
	t.Helper()
	out := make([]*Model, 0, n)
	for i := 1; i <= n; i++ {
		m, err := f.db.Create(t.Context(), f.user, map[string]any{
			"name":         fmt.Sprintf("user%02d", i),
			"emailAddress": fmt.Sprintf("user%02d@x.com", i),
			"age":          20 + i%5,
		})
		if err != nil {
			t.Fatalf("seed user %d: %v", i, err)
		}
		out = append(out, m)
	}
	f.client.resetCalls()
	return out
}
