package models

import (
	"reflect"
	"strings"
)

// Normalize replaces nil slices and maps with empty ones on every field that is
// always serialized (no omitempty), so the JSON form never carries null where
// the schema expects an array or object.
func Normalize(s *Session) {
	if s == nil {
		return
	}
	normalizeValue(reflect.ValueOf(s).Elem())
}

func normalizeValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			normalizeValue(v.Elem())
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			f := v.Field(i)
			if !omitEmpty(sf) {
				switch f.Kind() {
				case reflect.Slice:
					if f.IsNil() {
						f.Set(reflect.MakeSlice(f.Type(), 0, 0))
					}
				case reflect.Map:
					if f.IsNil() {
						f.Set(reflect.MakeMap(f.Type()))
					}
				}
			}
			normalizeValue(f)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			normalizeValue(v.Index(i))
		}
	case reflect.Map:
		// Map values are not addressable; normalize struct values through a copy.
		if v.Type().Elem().Kind() != reflect.Struct && v.Type().Elem().Kind() != reflect.Map {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			cp := reflect.New(iter.Value().Type()).Elem()
			cp.Set(iter.Value())
			normalizeValue(cp)
			v.SetMapIndex(iter.Key(), cp)
		}
	}
}

func omitEmpty(sf reflect.StructField) bool {
	tag := sf.Tag.Get("json")
	if tag == "" || tag == "-" {
		return tag == "-"
	}
	_, opts, _ := strings.Cut(tag, ",")
	return strings.Contains(opts, "omitempty")
}
