package expr

import (
	"fmt"
	"math"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/araddon/dateparse"
)

// builtins are present in every evaluation environment. User bindings
// with the same name shadow them.
var builtins = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,

	"sprig": sprig.GenericFuncMap(),

	"int":   _int,
	"float": _float,
	"str":   _string,

	"sum":     _sum,
	"avg":     _avg,
	"minimum": _minimum,
	"maximum": _maximum,

	"parse_time":      _parseTime,
	"date":            _date,
	"same_day":        _sameDay,
	"seconds_between": _secondsBetween,
	"hours_between":   _hoursBetween,
	"days_between":    _daysBetween,
}

// Builtins returns the names of the builtin bindings.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for k := range builtins {
		names = append(names, k)
	}
	return names
}

func _int(v any) int {
	n, ok := ToInt(v)
	if !ok {
		panic(fmt.Errorf("cannot convert %v (%T) to int", v, v))
	}
	return n
}

func _float(v any) float64 {
	f, ok := ToFloat64(v)
	if !ok {
		panic(fmt.Errorf("cannot convert %v (%T) to float", v, v))
	}
	return f
}

func _string(v any) string {
	switch w := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(w)
	case time.Time:
		return w.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func numbers(v any) []float64 {
	items := Flatten(v)
	out := make([]float64, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		f, ok := ToFloat64(item)
		if !ok {
			panic(fmt.Errorf("cannot use %v (%T) as a number", item, item))
		}
		out = append(out, f)
	}
	return out
}

func _sum(v any) float64 {
	var total float64
	for _, f := range numbers(v) {
		total += f
	}
	return total
}

func _avg(v any) float64 {
	ns := numbers(v)
	if len(ns) == 0 {
		return 0
	}
	return _sum(ns) / float64(len(ns))
}

func _minimum(v any) any {
	ns := numbers(v)
	if len(ns) == 0 {
		return nil
	}
	m := math.Inf(1)
	for _, f := range ns {
		m = math.Min(m, f)
	}
	return m
}

func _maximum(v any) any {
	ns := numbers(v)
	if len(ns) == 0 {
		return nil
	}
	m := math.Inf(-1)
	for _, f := range ns {
		m = math.Max(m, f)
	}
	return m
}

func _parseTime(s string) time.Time {
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		panic(fmt.Errorf("parse_time: %w", err))
	}
	return t
}

func mustTime(v any) time.Time {
	t, ok := ToTime(v)
	if !ok {
		panic(fmt.Errorf("cannot use %v (%T) as a time", v, v))
	}
	return t
}

func _date(v any) string {
	return mustTime(v).UTC().Format(time.DateOnly)
}

func _sameDay(a, b any) bool {
	return _date(a) == _date(b)
}

func _secondsBetween(a, b any) float64 {
	return mustTime(b).Sub(mustTime(a)).Seconds()
}

func _hoursBetween(a, b any) float64 {
	return mustTime(b).Sub(mustTime(a)).Hours()
}

func _daysBetween(a, b any) float64 {
	return mustTime(b).Sub(mustTime(a)).Hours() / 24
}
