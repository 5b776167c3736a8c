// Package query 实现列表接口的查询子语言：
// 过滤（where/filter）、排序（sort）、投影（select）、
// 分页（skip/limit）与计数（count）。
//
// 所有 JSON 片段在 Parse 阶段一次性解析完成，任何一个参数
// 非法都会使整个查询被拒绝，不存在部分生效的情况。
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ziyic8/mp3/internal/model"
)

// ErrBadQuery 查询参数无法解析。
var ErrBadQuery = errors.New("malformed query")

// DefaultLimit 未指定 limit（或 limit=0）时的结果上限。
const DefaultLimit = 100

// Op 过滤操作符。
type Op int

const (
	OpEquals Op = iota
	OpRegex
	OpNotEquals
	OpIn
	OpGT
	OpGTE
	OpLT
	OpLTE
)

// Condition 单个字段上的过滤条件。
type Condition struct {
	Field   string
	Op      Op
	Value   any            // OpEquals / OpNotEquals / 比较操作符
	Pattern *regexp.Regexp // OpRegex
	List    []any          // OpIn
}

// SortKey 排序键，保持 sort 参数中的书写顺序。
type SortKey struct {
	Field string
	Desc  bool
}

// Projection select 投影。包含式保留列出的字段，
// 排除式去掉列出的字段；_id 默认总是保留，除非显式写 _id:0。
type Projection struct {
	Include bool
	Fields  map[string]bool
	OmitID  bool
}

// Query 一次解析完成的查询。
type Query struct {
	Conditions []Condition
	SortKeys   []SortKey
	Projection *Projection
	Count      bool
	Skip       int
	Limit      int
}

// Parse 从查询字符串解析 Query。
//
// where 与 filter 互为别名；两者同时出现时 where 优先，
// filter 被忽略。
func Parse(values url.Values) (*Query, error) {
	q := &Query{Limit: DefaultLimit}

	raw := values.Get("where")
	if raw == "" {
		raw = values.Get("filter")
	}
	if raw != "" {
		conds, err := parseWhere(raw)
		if err != nil {
			return nil, err
		}
		q.Conditions = conds
	}

	if raw := values.Get("sort"); raw != "" {
		keys, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		q.SortKeys = keys
	}

	if raw := values.Get("select"); raw != "" {
		proj, err := parseSelect(raw)
		if err != nil {
			return nil, err
		}
		q.Projection = proj
	}

	if raw := values.Get("count"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: count=%q", ErrBadQuery, raw)
		}
		q.Count = b
	}

	if raw := values.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: skip=%q", ErrBadQuery, raw)
		}
		q.Skip = n
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: limit=%q", ErrBadQuery, raw)
		}
		if n == 0 {
			n = DefaultLimit
		}
		q.Limit = n
	}

	return q, nil
}

func parseWhere(raw string) ([]Condition, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: where: %v", ErrBadQuery, err)
	}

	conds := make([]Condition, 0, len(fields))
	for field, rawValue := range fields {
		var value any
		if err := json.Unmarshal(rawValue, &value); err != nil {
			return nil, fmt.Errorf("%w: where.%s: %v", ErrBadQuery, field, err)
		}

		obj, ok := value.(map[string]any)
		if !ok || !hasOperatorKey(obj) {
			conds = append(conds, Condition{Field: field, Op: OpEquals, Value: value})
			continue
		}

		for op, operand := range obj {
			cond, err := buildOperator(field, op, operand)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
	}
	return conds, nil
}

func hasOperatorKey(obj map[string]any) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func buildOperator(field, op string, operand any) (Condition, error) {
	switch op {
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return Condition{}, fmt.Errorf("%w: where.%s.$regex must be a string", ErrBadQuery, field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: where.%s.$regex: %v", ErrBadQuery, field, err)
		}
		return Condition{Field: field, Op: OpRegex, Pattern: re}, nil
	case "$ne":
		return Condition{Field: field, Op: OpNotEquals, Value: operand}, nil
	case "$in":
		list, ok := operand.([]any)
		if !ok {
			return Condition{}, fmt.Errorf("%w: where.%s.$in must be an array", ErrBadQuery, field)
		}
		return Condition{Field: field, Op: OpIn, List: list}, nil
	case "$gt":
		return Condition{Field: field, Op: OpGT, Value: operand}, nil
	case "$gte":
		return Condition{Field: field, Op: OpGTE, Value: operand}, nil
	case "$lt":
		return Condition{Field: field, Op: OpLT, Value: operand}, nil
	case "$lte":
		return Condition{Field: field, Op: OpLTE, Value: operand}, nil
	default:
		return Condition{}, fmt.Errorf("%w: where.%s: unsupported operator %q", ErrBadQuery, field, op)
	}
}

// parseSort 逐 token 扫描以保留 JSON 对象的键序。
func parseSort(raw string) ([]SortKey, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: sort must be a JSON object", ErrBadQuery)
	}

	var keys []SortKey
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: sort: %v", ErrBadQuery, err)
		}
		field, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: sort key", ErrBadQuery)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: sort.%s: %v", ErrBadQuery, field, err)
		}
		num, ok := valTok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: sort.%s must be 1 or -1", ErrBadQuery, field)
		}
		switch num.String() {
		case "1":
			keys = append(keys, SortKey{Field: field})
		case "-1":
			keys = append(keys, SortKey{Field: field, Desc: true})
		default:
			return nil, fmt.Errorf("%w: sort.%s must be 1 or -1", ErrBadQuery, field)
		}
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, fmt.Errorf("%w: sort", ErrBadQuery)
	}
	return keys, nil
}

func parseSelect(raw string) (*Projection, error) {
	var fields map[string]float64
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: select: %v", ErrBadQuery, err)
	}

	// _id 不参与包含/排除的归类：它默认总是保留，显式的
	// _id:0 压掉它，单独的 _id:1 构成只含主键的包含式投影。
	proj := &Projection{Fields: make(map[string]bool, len(fields))}
	includes, excludes := 0, 0
	includeID := false
	for field, v := range fields {
		switch v {
		case 1:
			if field == model.IDField {
				includeID = true
				continue
			}
			includes++
			proj.Fields[field] = true
		case 0:
			if field == model.IDField {
				proj.OmitID = true
				continue
			}
			excludes++
			proj.Fields[field] = true
		default:
			return nil, fmt.Errorf("%w: select.%s must be 0 or 1", ErrBadQuery, field)
		}
	}
	if includes > 0 && excludes > 0 {
		return nil, fmt.Errorf("%w: select mixes inclusion and exclusion", ErrBadQuery)
	}
	proj.Include = includes > 0 || (includeID && excludes == 0)
	return proj, nil
}

// Match 报告文档是否满足全部过滤条件。
func (q *Query) Match(doc model.Document) bool {
	for _, cond := range q.Conditions {
		if !cond.match(doc) {
			return false
		}
	}
	return true
}

func (c Condition) match(doc model.Document) bool {
	value, exists := doc[c.Field]
	switch c.Op {
	case OpEquals:
		return exists && equalValues(value, c.Value)
	case OpNotEquals:
		return !exists || !equalValues(value, c.Value)
	case OpRegex:
		s, ok := value.(string)
		return ok && c.Pattern.MatchString(s)
	case OpIn:
		if !exists {
			return false
		}
		for _, item := range c.List {
			if equalValues(value, item) {
				return true
			}
		}
		return false
	case OpGT, OpGTE, OpLT, OpLTE:
		if !exists {
			return false
		}
		cmp, ok := compareOrdered(value, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGT:
			return cmp > 0
		case OpGTE:
			return cmp >= 0
		case OpLT:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case nil:
		return b == nil
	default:
		// 数组、嵌套对象等走 JSON 归一化比较
		da, errA := json.Marshal(a)
		db, errB := json.Marshal(b)
		return errA == nil && errB == nil && string(da) == string(db)
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// compareOrdered 比较两个可排序值；类型不可比时 ok 为 false。
func compareOrdered(a, b any) (int, bool) {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

// Execute 对集合快照执行完整管线：过滤 → 排序 → skip/limit → 投影。
//
// count 查询不走这里，见 CountMatching。
func (q *Query) Execute(docs []model.Document) []model.Document {
	matched := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		if q.Match(doc) {
			matched = append(matched, doc)
		}
	}

	q.sortDocs(matched)

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Skip:]
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	if q.Projection == nil {
		return matched
	}
	projected := make([]model.Document, len(matched))
	for i, doc := range matched {
		projected[i] = q.Project(doc)
	}
	return projected
}

// CountMatching 返回过滤后的文档数，忽略 sort/skip/limit/select。
func (q *Query) CountMatching(docs []model.Document) int {
	n := 0
	for _, doc := range docs {
		if q.Match(doc) {
			n++
		}
	}
	return n
}

// sortDocs 稳定排序，最终按 _id 升序兜底，保证结果确定。
func (q *Query) sortDocs(docs []model.Document) {
	keys := q.SortKeys
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareForSort(docs[i][key.Field], docs[j][key.Field])
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return docs[i].ID() < docs[j].ID()
	})
}

// compareForSort 跨类型排序比较：缺失值最小，其后依次为
// 布尔、数值、字符串、其他。
func compareForSort(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 3:
		return strings.Compare(a.(string), b.(string))
	default:
		return 0
	}
}

func sortRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	default:
		if _, ok := asFloat(v); ok {
			return 2
		}
		return 4
	}
}

// Project 对单个文档应用投影；无投影时原样返回。
func (q *Query) Project(doc model.Document) model.Document {
	proj := q.Projection
	if proj == nil {
		return doc
	}
	out := make(model.Document, len(doc))
	if proj.Include {
		for field := range proj.Fields {
			if v, ok := doc[field]; ok {
				out[field] = v
			}
		}
		if !proj.OmitID {
			if v, ok := doc[model.IDField]; ok {
				out[model.IDField] = v
			}
		} else {
			delete(out, model.IDField)
		}
		return out
	}
	for field, v := range doc {
		if proj.Fields[field] {
			continue
		}
		out[field] = v
	}
	if proj.OmitID {
		delete(out, model.IDField)
	}
	return out
}
