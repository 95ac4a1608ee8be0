package configutil

import (
	"os"
	"reflect"
)

// ExpandEnv replaces ${VAR} references in every string reachable from ptr:
// struct fields, slices, string maps and free-form settings maps.
func ExpandEnv(ptr any) {
	expandValue(reflect.ValueOf(ptr))
}

// ExpandSettings expands ${VAR} references inside a free-form settings map in place.
func ExpandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		return ExpandSettings(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return
		}
		switch v.Type().Elem().Kind() {
		case reflect.String:
			for _, key := range v.MapKeys() {
				v.SetMapIndex(key, reflect.ValueOf(os.ExpandEnv(v.MapIndex(key).String())).Convert(v.Type().Elem()))
			}
		case reflect.Interface:
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				if val.IsNil() {
					continue
				}
				v.SetMapIndex(key, reflect.ValueOf(expandAny(val.Interface())))
			}
		}
	}
}
