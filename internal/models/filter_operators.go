package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// match evaluates one expression against a decoded JSON document. A
// missing attribute does not match; descending into a scalar is an error.
func (e *FilterExpr) match(doc map[string]interface{}) (bool, error) {
	var val interface{} = doc
	for _, a := range e.Attr {
		if a == KeyAttribute {
			m, ok := val.(map[string]interface{})
			if !ok {
				return false, fmt.Errorf("%w: %s does not address an object", ErrInvalidFilter, e.attrPath())
			}
			keys := make([]interface{}, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			val = keys
			continue
		}
		m, ok := val.(map[string]interface{})
		if !ok {
			return false, fmt.Errorf("%w: attribute %s is invalid", ErrInvalidFilter, e.attrPath())
		}
		next, found := m[a]
		if !found {
			return false, nil
		}
		val = next
	}

	// A list matches when any element does.
	if list, ok := val.([]interface{}); ok {
		for _, v := range list {
			ok, err := e.apply(v)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return e.apply(val)
}

func (e *FilterExpr) attrPath() string {
	return strings.Join(e.Attr, "/")
}

// apply compares a scalar attribute value with the operands, converting
// the operands to the attribute's JSON type.
func (e *FilterExpr) apply(val interface{}) (bool, error) {
	switch e.Operator {
	case FilterCont:
		return contains(val, e.Values), nil
	case FilterNcont:
		return !contains(val, e.Values), nil
	}

	cmps := make([]int, len(e.Values))
	for i, operand := range e.Values {
		c, comparable, err := compare(val, operand)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, e.attrPath(), err)
		}
		if !comparable {
			return false, nil
		}
		cmps[i] = c
	}

	switch e.Operator {
	case FilterEq:
		return cmps[0] == 0, nil
	case FilterNeq:
		return cmps[0] != 0, nil
	case FilterGt:
		return cmps[0] > 0, nil
	case FilterGte:
		return cmps[0] >= 0, nil
	case FilterLt:
		return cmps[0] < 0, nil
	case FilterLte:
		return cmps[0] <= 0, nil
	case FilterIn:
		return indexOf(cmps, 0) >= 0, nil
	case FilterNin:
		return indexOf(cmps, 0) < 0, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, e.Operator)
}

// compare returns the ordering of val against operand. comparable is false
// when val is an object or null.
func compare(val interface{}, operand string) (c int, comparable bool, err error) {
	switch v := val.(type) {
	case string:
		if vt, err := time.Parse(time.RFC3339Nano, v); err == nil {
			if ot, err := time.Parse(time.RFC3339Nano, operand); err == nil {
				return vt.Compare(ot), true, nil
			}
		}
		return strings.Compare(v, operand), true, nil
	case float64:
		o, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number", operand)
		}
		switch {
		case v < o:
			return -1, true, nil
		case v > o:
			return 1, true, nil
		}
		return 0, true, nil
	case bool:
		o, err := parseBool(operand)
		if err != nil {
			return 0, false, err
		}
		if v == o {
			return 0, true, nil
		}
		if !v {
			return -1, true, nil
		}
		return 1, true, nil
	}
	return 0, false, nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}

func contains(val interface{}, operands []string) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	for _, o := range operands {
		if strings.Contains(s, o) {
			return true
		}
	}
	return false
}

func indexOf(cmps []int, want int) int {
	for i, c := range cmps {
		if c == want {
			return i
		}
	}
	return -1
}
