package odm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docodm/data/document"
	"docodm/errors"
)

func TestQueryPlan_IndependentOfChainOrder(t *testing.T) {
	f := newFixture(t)

	a := f.db.Query(f.user).
		Where("name", "John").
		Where("age", ">=", 18).
		WhereIn("emailAddress", []string{"a@x.com", "b@x.com"}).
		Load("posts").
		Load("profile").
		Embed("tags", nil)
	b := f.db.Query(f.user).
		Embed("tags", nil).
		Load("profile").
		WhereIn("emailAddress", []string{"a@x.com", "b@x.com"}).
		Where("age", ">=", 18).
		Load("posts").
		Where("name", "John")

	if diff := cmp.Diff(a.Plan(), b.Plan()); diff != "" {
		t.Fatalf("plan mismatch (-a +b):\n%s", diff)
	}
	assert.Equal(t, []string{"posts", "profile"}, a.Plan().Loads)
	assert.Equal(t, []string{"tags"}, a.Plan().Embeds)
}

func TestQueryPlan_FilterCompilation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		build func(q *QueryBuilder)
		want  document.Filter
	}{
		{
			name:  "相等条件翻译为列名",
			build: func(q *QueryBuilder) { q.Where("emailAddress", "a@x.com") },
			want:  document.Filter{"email_address": map[string]any{"$eq": "a@x.com"}},
		},
		{
			name:  "nil 值等价于 null",
			build: func(q *QueryBuilder) { q.Where("age", nil) },
			want:  document.Filter{"age": map[string]any{"$eq": nil}},
		},
		{
			name:  "不等于 nil 等价于 notnull",
			build: func(q *QueryBuilder) { q.Where("age", "!=", nil) },
			want:  document.Filter{"age": map[string]any{"$ne": nil}},
		},
		{
			name:  "OR 切分 AND 组",
			build: func(q *QueryBuilder) { q.Where("name", "a").OrWhere("name", "b") },
			want: document.Filter{"$or": []any{
				document.Filter{"name": map[string]any{"$eq": "a"}},
				document.Filter{"name": map[string]any{"$eq": "b"}},
			}},
		},
		{
			name:  "WhereNot 使用 $nor",
			build: func(q *QueryBuilder) { q.WhereNot("age", ">", 30) },
			want: document.Filter{"$nor": []any{
				document.Filter{"age": map[string]any{"$gt": 30}},
			}},
		},
		{
			name:  "ILike 忽略大小写",
			build: func(q *QueryBuilder) { q.WhereILike("name", "jo%") },
			want:  document.Filter{"name": map[string]any{"$regex": "^jo.*$", "$options": "i"}},
		},
		{
			name: "内嵌路径按子模型翻译",
			build: func(q *QueryBuilder) {
				q.Where("details.firstName", "John")
			},
			want: document.Filter{"details.first_name": map[string]any{"$eq": "John"}},
		},
		{
			name: "分组条件",
			build: func(q *QueryBuilder) {
				q.Where("age", ">", 18).WhereGroup(func(g *QueryBuilder) {
					g.Where("name", "a").OrWhere("name", "b")
				})
			},
			want: document.Filter{"$and": []any{
				document.Filter{"$or": []any{
					document.Filter{"name": map[string]any{"$eq": "a"}},
					document.Filter{"name": map[string]any{"$eq": "b"}},
				}},
				document.Filter{"age": map[string]any{"$gt": 18}},
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := f.db.Query(f.user)
			tc.build(q)
			require.NoError(t, q.Err())
			if diff := cmp.Diff(tc.want, q.Plan().Filter); diff != "" {
				t.Fatalf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueryPlan_Modifiers(t *testing.T) {
	f := newFixture(t)

	q := f.db.Query(f.user).
		OrderBy("createdAt", "desc").
		OrderBy("name").
		OrderBy("createdAt", "asc").
		ForPage(2, 10).
		Select("name", "emailAddress")
	plan := q.Plan()

	assert.Equal(t, []document.SortField{
		{Field: "created_at", Desc: false},
		{Field: "name", Desc: false},
	}, plan.Sort)
	assert.Equal(t, int64(10), plan.Skip)
	assert.Equal(t, int64(10), plan.Limit)
	assert.Equal(t, map[string]bool{"name": true, "email_address": true}, plan.Projection)

	q.ForPage(0, 10)
	assert.Equal(t, int64(0), q.Plan().Skip, "页码小于 1 视为第 1 页")
}

func TestQueryBuilder_CloneIsIndependent(t *testing.T) {
	f := newFixture(t)

	base := f.db.Query(f.user).Where("age", ">", 18).Limit(5)
	fork := base.Clone().Where("name", "John").Limit(1).Load("posts")

	assert.Equal(t, document.Filter{"age": map[string]any{"$gt": 18}}, base.Plan().Filter)
	assert.Equal(t, int64(5), base.Plan().Limit)
	assert.Empty(t, base.Plan().Loads)
	assert.Equal(t, int64(1), fork.Plan().Limit)
	assert.Equal(t, []string{"posts"}, fork.Plan().Loads)
}

func TestQueryBuilder_DeferredErrors(t *testing.T) {
	f := newFixture(t)

	q := f.db.Query(f.user).Where("age", "~~", 3)
	require.Error(t, q.Err())
	assert.True(t, errors.IsErrorCode(q.Err(), errors.ErrCodeInvalidInput))

	_, err := q.All(t.Context())
	require.Error(t, err)
	assert.Zero(t, f.client.Calls("user", "find"), "非法条件不访问存储")

	q = f.db.Query(f.user).OrderBy("name", "sideways")
	assert.Error(t, q.Err())

	q = f.db.Query(f.user).Where("age", ">", 1, 2)
	assert.Error(t, q.Err())
}

func TestQueryBuilder_UndeclaredLoadPanics(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() { f.db.Query(f.user).Load("followers") })
	assert.Panics(t, func() { f.db.Query(f.user).Embed("profile", nil) })
	assert.NotPanics(t, func() { f.db.Query(f.user).Load("posts.user") })
}

func TestParseOperator(t *testing.T) {
	cases := map[string]Operator{
		"=":      OpEq,
		"<>":     OpNe,
		">=":     OpGte,
		"LIKE":   OpLike,
		"not in": OpNotIn,
	}
	for in, want := range cases {
		got, err := ParseOperator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOperator("between")
	assert.Error(t, err)
}
