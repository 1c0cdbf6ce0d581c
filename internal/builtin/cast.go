package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

func castFailure(expected string, v any) error {
	return failure.Processing(TemplateCast,
		map[string]any{"expected": expected},
		failure.WithDebug("value", v),
		failure.WithDebug("type", fmt.Sprintf("%T", v)),
	)
}

func castInt(ctx context.Context, v any, _ []any) (any, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && isIntegral(f) {
			return int(f), nil
		}
		return nil, castFailure(TokenInteger, v)
	case json.Number:
		return castInt(ctx, x.String(), nil)
	case bool:
		return nil, castFailure(TokenInteger, v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return nil, castFailure(TokenInteger, v)
		}
		return int(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		if f := rv.Float(); isIntegral(f) {
			return int(f), nil
		}
	}
	return nil, castFailure(TokenInteger, v)
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<53
}

func castFloat(_ context.Context, v any, _ []any) (any, error) {
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return nil, castFailure(TokenNumber, v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case bool:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func castString(_ context.Context, v any, _ []any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return nil, castFailure(TokenString, v)
}

func castBool(_ context.Context, v any, _ []any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return nil, castFailure(TokenBoolean, v)
	}
	if f, ok := toFloat(v); ok && (f == 0 || f == 1) {
		return f == 1, nil
	}
	return nil, castFailure(TokenBoolean, v)
}

func stringOp(op func(string) string) func(context.Context, any, []any) (any, error) {
	return func(_ context.Context, v any, _ []any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, castFailure(TokenString, v)
		}
		return op(s), nil
	}
}

var (
	trim  = stringOp(strings.TrimSpace)
	lower = stringOp(strings.ToLower)
	upper = stringOp(strings.ToUpper)
)

// defaultValue replaces nil and "" with its first argument.
func defaultValue(_ context.Context, v any, args []any) (any, error) {
	if len(args) == 0 {
		return nil, failure.Configuration("default needs a value argument")
	}
	if s, ok := v.(string); v == nil || (ok && s == "") {
		return args[0], nil
	}
	return v, nil
}
