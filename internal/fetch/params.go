package fetch

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"omnifetch/internal/planner"
)

const (
	// DefaultPageSize applies when page_size is missing or not positive.
	DefaultPageSize = 20
)

// RawParams is fetch input as it arrives from a caller, before validation.
type RawParams struct {
	Filters  FilterList       `json:"filters,omitempty"`
	Embeds   []string         `json:"embeds,omitempty"`
	Page     any              `json:"page,omitempty"`
	PageSize any              `json:"page_size,omitempty"`
	OrderBy  string           `json:"order_by,omitempty"`
}

// FilterList holds raw filter objects. Decoding keeps a nil placeholder for
// entries that are not JSON objects so normalization drops and counts them.
type FilterList []map[string]any

// UnmarshalJSON decodes a JSON array of filters, keeping numbers exact.
func (l *FilterList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entries []any
	if err := dec.Decode(&entries); err != nil {
		return err
	}
	if entries == nil {
		*l = nil
		return nil
	}
	out := make(FilterList, len(entries))
	for i, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			out[i] = m
		}
	}
	*l = out
	return nil
}

// Embed is a validated embed request. Name is the key the embedded data is
// stored under on each record.
type Embed struct {
	Name string
	Path []string
}

// Params is the normalized form of RawParams.
type Params struct {
	Filters  []planner.Filter
	Embeds   []Embed
	Page     int
	PageSize int
	OrderBy  string

	// DroppedFilters counts raw filters discarded as malformed.
	DroppedFilters int
	// OrderByDiscarded is set when a non-blank order_by failed validation.
	OrderByDiscarded bool
}

// Offset is the number of rows skipped before the current page.
func (p Params) Offset() int {
	return p.Page * p.PageSize
}

// NormalizeParams validates raw input once. Malformed pieces are dropped
// rather than reported: filters without a field or value, list values with a
// comparator other than = or !=, blank or repeated embeds, and order_by
// expressions with disallowed characters.
func NormalizeParams(raw RawParams) Params {
	return normalizeParams(raw, DefaultPageSize)
}

func normalizeParams(raw RawParams, defaultPageSize int) Params {
	params := Params{
		Page:     0,
		PageSize: defaultPageSize,
	}

	for _, rf := range raw.Filters {
		f, ok := normalizeFilter(rf)
		if !ok {
			params.DroppedFilters++
			continue
		}
		params.Filters = append(params.Filters, f)
	}

	seen := make(map[string]struct{}, len(raw.Embeds))
	for _, name := range raw.Embeds {
		name = strings.TrimSpace(name)
		path := planner.SplitPath(name)
		if len(path) == 0 {
			continue
		}
		name = strings.Join(path, ".")
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		params.Embeds = append(params.Embeds, Embed{Name: name, Path: path})
	}

	if page, ok := toInt(raw.Page); ok && page > 0 {
		params.Page = page
	}
	if size, ok := toInt(raw.PageSize); ok && size > 0 {
		params.PageSize = size
	}
	// (page+1)*page_size must not overflow.
	if maxPage := math.MaxInt64/int64(params.PageSize) - 1; int64(params.Page) > maxPage {
		params.Page = int(maxPage)
	}

	orderBy, accepted := planner.NormalizeOrderBy(raw.OrderBy)
	params.OrderBy = orderBy
	params.OrderByDiscarded = !accepted
	return params
}

func normalizeFilter(raw map[string]any) (planner.Filter, bool) {
	field, ok := raw["field"].(string)
	if !ok {
		return planner.Filter{}, false
	}
	field = strings.TrimSpace(field)

	comparator := raw["comparator"]
	if comparator == nil {
		comparator = raw["cmp"]
	}
	cmpText, _ := comparator.(string)
	condition := raw["condition"]
	if condition == nil {
		condition = raw["cond"]
	}
	condText, _ := condition.(string)

	value, ok := toValue(raw["value"])
	if !ok {
		return planner.Filter{}, false
	}
	f := planner.Filter{
		Field:      field,
		Comparator: planner.ParseComparator(cmpText),
		Condition:  planner.ParseCondition(condText),
		Value:      value,
	}
	return f, f.Valid()
}

// toValue converts a decoded operand into a planner value. It reports false
// for objects, nested lists and other non-scalar operands.
func toValue(v any) (planner.Value, bool) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, item := range list {
			items[i] = item
		}
	case []int:
		items = make([]any, len(list))
		for i, item := range list {
			items[i] = item
		}
	case []int64:
		items = make([]any, len(list))
		for i, item := range list {
			items[i] = item
		}
	case []float64:
		items = make([]any, len(list))
		for i, item := range list {
			items[i] = item
		}
	default:
		if !isScalar(v) {
			return planner.Value{}, false
		}
		return planner.Scalar(normalizeScalar(v)), true
	}

	values := make([]any, len(items))
	for i, item := range items {
		if item == nil || !isScalar(item) {
			return planner.Value{}, false
		}
		values[i] = normalizeScalar(item)
	}
	return planner.List(values...), true
}

// isScalar reports whether v can be bound as a single SQL argument.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return true
	default:
		return false
	}
}

// normalizeScalar turns decoded JSON numbers into int64 when they are whole,
// so integer columns compare against integer arguments.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case int:
		return int64(n)
	default:
		return v
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
