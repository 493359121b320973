package sqlite

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Params maps parameter names to host values.
//
// A key is either a parameter name, with or without its ":", "@" or "$"
// prefix, or a 1-based position written as "3" or "?3". Named keys the
// statement does not declare are ignored; declared parameters without a key
// bind NULL. A position beyond the statement's parameter count is a
// BindParameterError.
type Params map[string]any

// Args builds a positional parameter set.
func Args(values ...any) Params {
	p := make(Params, len(values))
	for i, v := range values {
		p[strconv.Itoa(i+1)] = v
	}
	return p
}

// position reports whether key addresses a parameter by index.
func position(key string) (int, bool) {
	digits := strings.TrimPrefix(key, "?")
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// bindArgs encodes every entry of p and lays them out the way the driver
// binds them: positional entries by ordinal, named entries by name. Keys are
// visited in sorted order so the reported failure is deterministic.
func bindArgs(p Params, query string) ([]driver.NamedValue, error) {
	keys := lo.Keys(p)
	slices.Sort(keys)

	args := make([]driver.NamedValue, 0, len(keys))
	for _, key := range keys {
		v, err := Encode(key, p[key])
		if err != nil {
			e := asError(err)
			return nil, &Error{Code: e.Code, Message: e.Message, Details: e.Details, Query: query}
		}
		if n, ok := position(key); ok {
			if n < 1 {
				return nil, &Error{
					Code:    CodeBindParameter,
					Message: "parameter position out of range",
					Details: fmt.Sprintf("parameter %q", key),
					Query:   query,
				}
			}
			args = append(args, driver.NamedValue{Ordinal: n, Value: driverValue(v)})
			continue
		}
		name := strings.TrimLeft(key, ":@$")
		if name == "" {
			return nil, &Error{
				Code:    CodeBindParameter,
				Message: "empty parameter name",
				Details: fmt.Sprintf("parameter %q", key),
				Query:   query,
			}
		}
		args = append(args, driver.NamedValue{Name: name, Value: driverValue(v)})
	}
	return args, nil
}
