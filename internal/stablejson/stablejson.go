// Package stablejson renders Go values as canonical JSON suitable for
// fingerprinting: object keys are sorted, special types are tagged
// deterministically, and values that cannot be serialized stably (cycles,
// functions, channels, non-finite floats) produce an error instead of an
// unstable key.
package stablejson

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnstable marks values that have no canonical representation. Callers
// treat it as "uncacheable", never as a fatal failure.
var ErrUnstable = errors.New("value has no stable representation")

// Marshal renders v as canonical JSON.
func Marshal(v any) (string, error) {
	var sb strings.Builder
	seen := map[uintptr]bool{}
	if err := write(&sb, reflect.ValueOf(v), seen); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Fingerprint is Marshal followed by a stability check on the empty
// interface conventions used across the caches.
func Fingerprint(v any) (string, error) {
	return Marshal(v)
}

func write(sb *strings.Builder, v reflect.Value, seen map[uintptr]bool) error {
	if !v.IsValid() {
		sb.WriteString("null")
		return nil
	}

	// Special types before kind-based handling.
	switch t := v.Interface().(type) {
	case time.Time:
		sb.WriteString(strconv.Quote(t.UTC().Format(time.RFC3339Nano)))
		return nil
	case *regexp.Regexp:
		if t == nil {
			sb.WriteString("null")
			return nil
		}
		sb.WriteString(strconv.Quote(t.String()))
		return nil
	case *big.Int:
		if t == nil {
			sb.WriteString("null")
			return nil
		}
		sb.WriteString(strconv.Quote(t.String()))
		return nil
	case json.Number:
		sb.WriteString(strconv.Quote(t.String()))
		return nil
	case json.RawMessage:
		// Normalize raw JSON through the canonical path.
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return fmt.Errorf("%w: invalid raw json", ErrUnstable)
		}
		return write(sb, reflect.ValueOf(decoded), seen)
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			sb.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Ptr {
			addr := v.Pointer()
			if seen[addr] {
				return fmt.Errorf("%w: cycle detected", ErrUnstable)
			}
			seen[addr] = true
			defer delete(seen, addr)
		}
		return write(sb, v.Elem(), seen)

	case reflect.Bool:
		if v.Bool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return nil

	case reflect.String:
		sb.WriteString(strconv.Quote(v.String()))
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sb.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite number", ErrUnstable)
		}
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return nil

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				sb.WriteString("null")
				return nil
			}
			addr := v.Pointer()
			if addr != 0 && v.Len() > 0 {
				if seen[addr] {
					return fmt.Errorf("%w: cycle detected", ErrUnstable)
				}
				seen[addr] = true
				defer delete(seen, addr)
			}
		}
		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := write(sb, v.Index(i), seen); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil

	case reflect.Map:
		if v.IsNil() {
			sb.WriteString("null")
			return nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key type %s", ErrUnstable, v.Type().Key())
		}
		addr := v.Pointer()
		if seen[addr] {
			return fmt.Errorf("%w: cycle detected", ErrUnstable)
		}
		seen[addr] = true
		defer delete(seen, addr)

		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			if err := write(sb, v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())), seen); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil

	case reflect.Struct:
		fields, err := structFields(v)
		if err != nil {
			return err
		}
		sb.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(f.name))
			sb.WriteByte(':')
			if err := write(sb, f.value, seen); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: kind %s", ErrUnstable, v.Kind())
	}

	return fmt.Errorf("%w: kind %s", ErrUnstable, v.Kind())
}

type field struct {
	name  string
	value reflect.Value
}

// structFields lists exported fields under their JSON names, sorted, with
// json:"-" fields dropped.
func structFields(v reflect.Value) ([]field, error) {
	t := v.Type()
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}
		fields = append(fields, field{name: name, value: v.Field(i)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	return fields, nil
}
