// Package keys builds deterministic key-value store keys from a namespace,
// an operation name and a set of parameters.
package keys

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Params holds the call-site arguments that distinguish one cached result
// from another. Iteration order never affects the built key.
type Params map[string]any

// Static keys shared across instances. They carry no parameters.
const (
	RecentRegisteredUsers = "recent_registered_users"
	RecentActivityUsers   = "recent_activity_users"
	StartSpamGuard        = "start_spam_guard"
)

const sep = ":"

// Build returns namespace:operation followed by every parameter rendered as
// name=value, sorted by name. It panics on parameter values that have no
// canonical scalar form.
func Build(namespace, operation string, params Params) string {
	var sb strings.Builder
	sb.WriteString(namespace)
	sb.WriteString(sep)
	sb.WriteString(operation)

	if len(params) == 0 {
		return sb.String()
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sb.WriteString(sep)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(scalar(name, params[name]))
	}
	return sb.String()
}

// Join concatenates key segments with the package separator, e.g. a static
// prefix and a subject id.
func Join(parts ...string) string {
	return strings.Join(parts, sep)
}

func scalar(name string, v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case fmt.Stringer:
		return x.String()
	}

	// Named types such as `type Role string` land here.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	}
	panic(fmt.Sprintf("keys: unsupported value %T for param %q", v, name))
}
