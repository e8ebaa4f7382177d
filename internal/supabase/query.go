package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query builds one PostgREST request against a table.
type Query struct {
	client  *Client
	table   string
	columns string
	filters url.Values
	orders  []string
	limit   int
	offset  int
	single  bool
	count   bool
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, filters: url.Values{}}
}

// Select sets the column list; the default is "*".
func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

func (q *Query) filter(column, op string, value any) *Query {
	var v string
	switch val := value.(type) {
	case time.Time:
		v = val.UTC().Format(time.RFC3339Nano)
	default:
		v = fmt.Sprint(val)
	}
	q.filters.Add(column, op+"."+v)
	return q
}

func (q *Query) Eq(column string, value any) *Query  { return q.filter(column, "eq", value) }
func (q *Query) Neq(column string, value any) *Query { return q.filter(column, "neq", value) }
func (q *Query) Gt(column string, value any) *Query  { return q.filter(column, "gt", value) }
func (q *Query) Gte(column string, value any) *Query { return q.filter(column, "gte", value) }
func (q *Query) Lt(column string, value any) *Query  { return q.filter(column, "lt", value) }
func (q *Query) Lte(column string, value any) *Query { return q.filter(column, "lte", value) }

// ILike filters case-insensitively; use * as the wildcard.
func (q *Query) ILike(column, pattern string) *Query { return q.filter(column, "ilike", pattern) }

// Is filters on null, true or false.
func (q *Query) Is(column, value string) *Query { return q.filter(column, "is", value) }

// In filters on a value list. Values are quoted so commas survive.
func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, strconv.Quote(v))
	}
	return q.filter(column, "in", "("+strings.Join(quoted, ",")+")")
}

// Or adds a raw PostgREST or=(...) group.
func (q *Query) Or(expr string) *Query {
	q.filters.Add("or", "("+expr+")")
	return q
}

// Order appends an ordering term.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// OrderNullsLast appends an ascending term with nulls sorted last.
func (q *Query) OrderNullsLast(column string) *Query {
	q.orders = append(q.orders, column+".asc.nullslast")
	return q
}

func (q *Query) Limit(n int) *Query  { q.limit = n; return q }
func (q *Query) Offset(n int) *Query { q.offset = n; return q }

// Single expects exactly one row; PostgREST answers 406 otherwise.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// Count asks for an exact row count in Content-Range.
func (q *Query) Count() *Query {
	q.count = true
	return q
}

func (q *Query) path() string { return "/rest/v1/" + q.table }

func (q *Query) params(withSelect bool) url.Values {
	params := url.Values{}
	for k, v := range q.filters {
		params[k] = append([]string(nil), v...)
	}
	if withSelect {
		cols := q.columns
		if cols == "" {
			cols = "*"
		}
		params.Set("select", cols)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", strconv.Itoa(q.offset))
	}
	return params
}

func (q *Query) headers(prefer ...string) http.Header {
	h := http.Header{}
	if q.single {
		h.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if q.count {
		prefer = append(prefer, "count=exact")
	}
	if len(prefer) > 0 {
		h.Set("Prefer", strings.Join(prefer, ","))
	}
	return h
}

// Get runs the SELECT.
func (q *Query) Get(ctx context.Context) (*Response, error) {
	return q.client.send(ctx, http.MethodGet, q.path(), q.params(true), nil, q.headers())
}

// Into runs the SELECT and decodes the rows into dst.
func (q *Query) Into(ctx context.Context, dst any) error {
	resp, err := q.Get(ctx)
	if err != nil {
		return err
	}
	return resp.JSON(dst)
}

// InsertOptions tune an insert.
type InsertOptions struct {
	// OnConflict names the unique columns for an upsert.
	OnConflict string
	// IgnoreDuplicates keeps existing rows instead of merging.
	IgnoreDuplicates bool
}

// Insert posts rows and returns the stored representation.
func (q *Query) Insert(ctx context.Context, rows any, opts InsertOptions) (*Response, error) {
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal rows: %w", err)
	}
	prefer := []string{"return=representation"}
	params := q.params(q.columns != "")
	if opts.OnConflict != "" {
		params.Set("on_conflict", opts.OnConflict)
		if opts.IgnoreDuplicates {
			prefer = append(prefer, "resolution=ignore-duplicates")
		} else {
			prefer = append(prefer, "resolution=merge-duplicates")
		}
	}
	h := q.headers(prefer...)
	h.Set("Content-Type", "application/json")
	return q.client.send(ctx, http.MethodPost, q.path(), params, body, h)
}

// Update patches the rows matching the filters.
func (q *Query) Update(ctx context.Context, patch any) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, fmt.Errorf("update on %s without filters", q.table)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	h := q.headers("return=representation")
	h.Set("Content-Type", "application/json")
	return q.client.send(ctx, http.MethodPatch, q.path(), q.params(q.columns != ""), body, h)
}

// Delete removes the rows matching the filters.
func (q *Query) Delete(ctx context.Context) (*Response, error) {
	if len(q.filters) == 0 {
		return nil, fmt.Errorf("delete on %s without filters", q.table)
	}
	return q.client.send(ctx, http.MethodDelete, q.path(), q.params(false), nil, q.headers("return=representation"))
}
