package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidFilter is returned for a malformed attribute filter or selector.
var ErrInvalidFilter = errors.New("invalid attribute filter")

// FilterOperator is an attribute filter comparison operator.
type FilterOperator string

const (
	FilterEq    FilterOperator = "eq"
	FilterNeq   FilterOperator = "neq"
	FilterIn    FilterOperator = "in"
	FilterNin   FilterOperator = "nin"
	FilterGt    FilterOperator = "gt"
	FilterGte   FilterOperator = "gte"
	FilterLt    FilterOperator = "lt"
	FilterLte   FilterOperator = "lte"
	FilterCont  FilterOperator = "cont"
	FilterNcont FilterOperator = "ncont"
)

// multiValue reports whether the operator accepts more than one value.
func (o FilterOperator) multiValue() bool {
	switch o {
	case FilterIn, FilterNin, FilterCont, FilterNcont:
		return true
	}
	return false
}

func (o FilterOperator) valid() bool {
	switch o {
	case FilterEq, FilterNeq, FilterGt, FilterGte, FilterLt, FilterLte:
		return true
	}
	return o.multiValue()
}

// KeyAttribute is the attribute path element selecting the keys of a map.
const KeyAttribute = "@key"

// FilterExpr is one simple filter expression, e.g. (eq,vnfdId,abc).
type FilterExpr struct {
	// Operator is the comparison operator.
	Operator FilterOperator

	// Attr is the attribute path, one element per JSON level.
	Attr []string

	// Values are the operands. Single-value operators have exactly one.
	Values []string
}

// AttributeFilter is a conjunction of filter expressions.
//
// Example:
//
//	f, err := models.ParseAttributeFilter("(eq,instantiationState,INSTANTIATED);(in,vnfdId,a,b)")
type AttributeFilter []FilterExpr

// ParseAttributeFilter parses the value of the "filter" query parameter.
// An empty string yields an empty filter that matches everything.
func ParseAttributeFilter(s string) (AttributeFilter, error) {
	var out AttributeFilter
	p := &filterParser{in: s}
	for p.pos < len(p.in) {
		expr, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, *expr)
		if p.pos == len(p.in) {
			break
		}
		if p.in[p.pos] != ';' {
			return nil, p.errorf("semicolon expected")
		}
		p.pos++
		if p.pos == len(p.in) {
			return nil, p.errorf("expression expected")
		}
	}
	return out, nil
}

type filterParser struct {
	in  string
	pos int
}

func (p *filterParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at char %d", ErrInvalidFilter, fmt.Sprintf(format, args...), p.pos)
}

// expr parses "(op,attr,value[,value...])".
func (p *filterParser) expr() (*FilterExpr, error) {
	if p.in[p.pos] != '(' {
		return nil, p.errorf("'(' expected")
	}
	p.pos++

	op, err := p.token()
	if err != nil {
		return nil, err
	}
	expr := &FilterExpr{Operator: FilterOperator(op)}
	if !expr.Operator.valid() {
		return nil, p.errorf("unknown operator %q", op)
	}

	attr, err := p.token()
	if err != nil {
		return nil, err
	}
	if attr == "" {
		return nil, p.errorf("attribute name expected")
	}
	for _, a := range strings.Split(attr, "/") {
		expr.Attr = append(expr.Attr, unescapeAttr(a))
	}

	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		expr.Values = append(expr.Values, v)
		if p.pos >= len(p.in) {
			return nil, p.errorf("')' expected")
		}
		c := p.in[p.pos]
		p.pos++
		if c == ')' {
			break
		}
	}

	if len(expr.Values) > 1 && !expr.Operator.multiValue() {
		return nil, p.errorf("operator %q takes one value", op)
	}
	return expr, nil
}

// token reads up to and consumes the next comma.
func (p *filterParser) token() (string, error) {
	end := strings.IndexByte(p.in[p.pos:], ',')
	if end < 0 {
		return "", p.errorf("',' expected")
	}
	tok := p.in[p.pos : p.pos+end]
	if strings.ContainsAny(tok, "();") {
		return "", p.errorf("unexpected character in %q", tok)
	}
	p.pos += end + 1
	return tok, nil
}

// value reads one operand, quoted or not, leaving the terminator
// (',' or ')') unconsumed.
func (p *filterParser) value() (string, error) {
	if p.pos < len(p.in) && p.in[p.pos] == '\'' {
		var b strings.Builder
		p.pos++
		for p.pos < len(p.in) {
			c := p.in[p.pos]
			p.pos++
			if c != '\'' {
				b.WriteByte(c)
				continue
			}
			if p.pos < len(p.in) && p.in[p.pos] == '\'' {
				b.WriteByte('\'')
				p.pos++
				continue
			}
			return b.String(), nil
		}
		return "", p.errorf("unterminated quoted value")
	}

	start := p.pos
	for p.pos < len(p.in) && p.in[p.pos] != ',' && p.in[p.pos] != ')' {
		if p.in[p.pos] == '\'' {
			return "", p.errorf("unexpected quote")
		}
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("value expected")
	}
	return p.in[start:p.pos], nil
}

func unescapeAttr(s string) string {
	if s == KeyAttribute {
		return s
	}
	s = strings.NewReplacer("~1", "/", "~a", ",", "~b", "@").Replace(s)
	return strings.ReplaceAll(s, "~0", "~")
}

// Match reports whether obj matches every expression. obj is any value
// with a JSON encoding; its JSON form is what the attribute paths address.
func (f AttributeFilter) Match(obj interface{}) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}
	doc, ok := obj.(map[string]interface{})
	if !ok {
		b, err := json.Marshal(obj)
		if err != nil {
			return false, fmt.Errorf("failed to encode filter subject: %w", err)
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return false, fmt.Errorf("failed to decode filter subject: %w", err)
		}
	}
	for i := range f {
		ok, err := f[i].match(doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Pager splits a list response into pages addressed by an opaque marker,
// the id of the last item of the previous page.
type Pager struct {
	// PageSize is the maximum number of items per page. Zero disables paging.
	PageSize int

	// Marker is the nextpage_opaque_marker of the request.
	Marker string
}

// NextPageMarker is the query parameter carrying the page marker.
const NextPageMarker = "nextpage_opaque_marker"

// NewPager builds a pager from the request query.
func NewPager(query url.Values, pageSize int) *Pager {
	return &Pager{PageSize: pageSize, Marker: query.Get(NextPageMarker)}
}

// Page returns the bounds of the requested page and the marker of the next
// one, or "" when this is the last page. id returns the id of item i.
func (p *Pager) Page(n int, id func(i int) string) (start, end int, next string) {
	if p == nil || p.PageSize <= 0 {
		return 0, n, ""
	}
	if p.Marker != "" {
		for i := 0; i < n; i++ {
			if id(i) == p.Marker {
				start = i + 1
				break
			}
		}
	}
	end = start + p.PageSize
	if end >= n {
		return start, n, ""
	}
	return start, end, id(end - 1)
}

// NextLink renders the Link header value of the next page.
func NextLink(requestURL *url.URL, marker string) string {
	u := *requestURL
	q := u.Query()
	q.Set(NextPageMarker, marker)
	u.RawQuery = q.Encode()
	return "<" + u.String() + ">;rel=\"next\""
}
