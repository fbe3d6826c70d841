package child

import (
	"reflect"
	"strconv"
	"strings"
)

// PropertyGetter is implemented by values that expose computed properties to path resolution.
// Property returns false when name is not one of them. Other methods are never called.
type PropertyGetter interface {
	Property(name string) (any, bool)
}

// ResolvePath walks a dotted path through root and returns the value at its end.
//
// Each segment selects, in order of preference: a property of a PropertyGetter, a struct field by name,
// by json tag, or by case-insensitive name, a map entry, or a slice/array index.
// Pointers and interfaces are followed. A segment that selects nothing or a nil along the way
// yields nil: a missing path is not an error.
func ResolvePath(root any, path string) any {
	v := reflect.ValueOf(root)
	if path == "" {
		return valueOf(v)
	}
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(v, seg)
		if !ok {
			return nil
		}
		v = next
	}
	return valueOf(v)
}

func valueOf(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func step(v reflect.Value, seg string) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Value{}, false
	}
	if p, ok := property(v, seg); ok {
		return p, true
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
		if p, ok := property(v, seg); ok {
			return p, true
		}
	}

	switch v.Kind() {
	case reflect.Struct:
		return field(v, seg)
	case reflect.Map:
		return mapEntry(v, seg)
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= v.Len() {
			return reflect.Value{}, false
		}
		return v.Index(i), true
	}
	return reflect.Value{}, false
}

func property(v reflect.Value, seg string) (reflect.Value, bool) {
	switch v.Kind() {
	case reflect.Interface:
		// looked at once unwrapped, where a nil pointer inside is caught
		return reflect.Value{}, false
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return reflect.Value{}, false
		}
	}
	if !v.CanInterface() {
		return reflect.Value{}, false
	}
	g, ok := v.Interface().(PropertyGetter)
	if !ok {
		return reflect.Value{}, false
	}
	p, ok := g.Property(seg)
	if !ok {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(p), true
}

func field(v reflect.Value, seg string) (reflect.Value, bool) {
	t := v.Type()
	if sf, ok := t.FieldByName(seg); ok && sf.IsExported() {
		f, err := v.FieldByIndexErr(sf.Index)
		return f, err == nil
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == seg || strings.EqualFold(sf.Name, seg) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func mapEntry(v reflect.Value, seg string) (reflect.Value, bool) {
	kt := v.Type().Key()
	var key reflect.Value
	switch kt.Kind() {
	case reflect.String:
		key = reflect.ValueOf(seg).Convert(kt)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(seg, 10, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		key = reflect.New(kt).Elem()
		key.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(seg, 10, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		key = reflect.New(kt).Elem()
		key.SetUint(n)
	default:
		return reflect.Value{}, false
	}
	e := v.MapIndex(key)
	return e, e.IsValid()
}
