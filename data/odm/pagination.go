package odm

import (
	"encoding/json"

	"docodm/naming"
)

// Paginator 分页结果
type Paginator struct {
	Data        []*Model
	Total       int64
	PerPage     int64
	CurrentPage int64
	LastPage    int64
	FirstPage   int64

	naming naming.Strategy
}

// NewPaginator 根据总数与页大小计算页码信息；LastPage 至少为 1
func NewPaginator(data []*Model, total, perPage, currentPage int64, strategy naming.Strategy) *Paginator {
	if perPage < 1 {
		perPage = 1
	}
	if currentPage < 1 {
		currentPage = 1
	}
	if strategy == nil {
		strategy = naming.SnakeCase{}
	}
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	return &Paginator{
		Data:        data,
		Total:       total,
		PerPage:     perPage,
		CurrentPage: currentPage,
		LastPage:    last,
		FirstPage:   1,
		naming:      strategy,
	}
}

// HasNextPage 是否存在下一页
func (p *Paginator) HasNextPage() bool { return p.CurrentPage < p.LastPage }

// HasPreviousPage 是否存在上一页
func (p *Paginator) HasPreviousPage() bool { return p.CurrentPage > p.FirstPage }

// HasMorePages 当前页之后是否还有数据
func (p *Paginator) HasMorePages() bool { return p.HasNextPage() }

// IsEmpty 当前页是否为空
func (p *Paginator) IsEmpty() bool { return len(p.Data) == 0 }

// Meta 分页元信息，字段名由命名策略决定
func (p *Paginator) Meta() map[string]any {
	key := p.naming.PaginationKey
	return map[string]any{
		key(naming.KeyTotal):           p.Total,
		key(naming.KeyPerPage):         p.PerPage,
		key(naming.KeyCurrentPage):     p.CurrentPage,
		key(naming.KeyLastPage):        p.LastPage,
		key(naming.KeyFirstPage):       p.FirstPage,
		key(naming.KeyHasNextPage):     p.HasNextPage(),
		key(naming.KeyHasPreviousPage): p.HasPreviousPage(),
		key(naming.KeyHasMorePages):    p.HasMorePages(),
	}
}

// ToJSON {data: [...], meta: {...}}
func (p *Paginator) ToJSON() map[string]any {
	data := make([]any, len(p.Data))
	for i, m := range p.Data {
		data[i] = m.ToJSON()
	}
	return map[string]any{
		p.naming.PaginationKey(naming.KeyData): data,
		p.naming.PaginationKey(naming.KeyMeta): p.Meta(),
	}
}

// MarshalJSON 实现 json.Marshaler
func (p *Paginator) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToJSON())
}
