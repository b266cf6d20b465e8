// Package canonical produces a byte-stable JSON encoding of structured values
// and the SHA-256 digest of that encoding.
//
// Object keys are sorted by code point at every nesting level; sequence order
// is preserved. Output uses fixed "," and ":" separators with no whitespace,
// escapes only quotes, backslashes and control characters in strings, and
// formats numbers the way ECMAScript's JSON.stringify does, so any third
// party holding the same logical value can reproduce the digest. Strings must
// be valid UTF-8.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidStructure is returned for values that have no canonical form:
// cycles, functions, channels, complex numbers, raw byte blobs, non-finite
// floats and maps keyed by anything other than strings.
var ErrInvalidStructure = errors.New("invalid structure")

// maxDepth bounds recursion for pathological but acyclic inputs.
const maxDepth = 1000

var (
	numberType        = reflect.TypeOf(json.Number(""))
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Canonicalize returns the canonical encoding of v.
func Canonicalize(v any) ([]byte, error) {
	e := &encoder{active: make(map[uintptr]struct{})}
	if err := e.encode(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type encoder struct {
	buf bytes.Buffer
	// active holds the addresses of maps, slices and pointers on the current
	// descent path. Revisiting one of them means the value is cyclic.
	active map[uintptr]struct{}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStructure, fmt.Sprintf(format, args...))
}

func (e *encoder) encode(v reflect.Value, depth int) error {
	if depth > maxDepth {
		return invalid("nesting exceeds %d levels", maxDepth)
	}
	if !v.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	if v.Type() == numberType {
		return e.number(v.String())
	}
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		e.buf.WriteString("null")
		return nil
	}
	if v.Type().Implements(jsonMarshalerType) {
		return e.marshaler(v, depth)
	}
	if v.Kind() != reflect.Pointer && v.Type().Implements(textMarshalerType) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return invalid("marshal %s: %v", v.Type(), err)
		}
		return e.str(string(text))
	}

	switch v.Kind() {
	case reflect.Interface:
		return e.encode(v.Elem(), depth+1)
	case reflect.Pointer:
		return e.visit(v.Pointer(), func() error { return e.encode(v.Elem(), depth+1) })
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(v.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		s, err := formatFloat(v.Float(), v.Type().Bits())
		if err != nil {
			return err
		}
		e.buf.WriteString(s)
		return nil
	case reflect.String:
		return e.str(v.String())
	case reflect.Map:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return invalid("map key type %s is not a string", v.Type().Key())
		}
		return e.visit(v.Pointer(), func() error { return e.mapValue(v, depth) })
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return invalid("binary blob of type %s", v.Type())
		}
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Len() == 0 {
			e.buf.WriteString("[]")
			return nil
		}
		return e.visit(v.Pointer(), func() error { return e.sequence(v, depth) })
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return invalid("binary blob of type %s", v.Type())
		}
		return e.sequence(v, depth)
	case reflect.Struct:
		return e.structValue(v, depth)
	default:
		return invalid("unsupported kind %s", v.Kind())
	}
}

// visit marks addr as being on the descent path for the duration of fn.
func (e *encoder) visit(addr uintptr, fn func() error) error {
	if _, ok := e.active[addr]; ok {
		return invalid("cycle detected")
	}
	e.active[addr] = struct{}{}
	defer delete(e.active, addr)
	return fn()
}

func (e *encoder) marshaler(v reflect.Value, depth int) error {
	raw, err := v.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return invalid("marshal %s: %v", v.Type(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return invalid("decode %s output: %v", v.Type(), err)
	}
	return e.encode(reflect.ValueOf(decoded), depth+1)
}

func (e *encoder) mapValue(v reflect.Value, depth int) error {
	keys := make([]string, 0, v.Len())
	values := make(map[string]reflect.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		keys = append(keys, k)
		values[k] = iter.Value()
	}
	return e.object(keys, values, depth)
}

// object writes fields in code point order. Byte order of UTF-8 strings
// equals code point order, so sort.Strings is sufficient.
func (e *encoder) object(keys []string, values map[string]reflect.Value, depth int) error {
	sort.Strings(keys)
	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.str(k); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.encode(values[k], depth+1); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) sequence(v reflect.Value, depth int) error {
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) structValue(v reflect.Value, depth int) error {
	values := make(map[string]reflect.Value)
	collectFields(v, values)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return e.object(keys, values, depth)
}

// collectFields gathers exported struct fields under their JSON names,
// honouring "-" and omitempty. Untagged embedded structs are flattened and
// never shadow a field declared on the outer struct.
func collectFields(v reflect.Value, into map[string]reflect.Value) {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				ft = ft.Elem()
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, fv)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		into[name] = fv
	}
	for _, ev := range embedded {
		inner := make(map[string]reflect.Value)
		collectFields(ev, inner)
		for k, fv := range inner {
			if _, exists := into[k]; !exists {
				into[k] = fv
			}
		}
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

// str writes s as a JSON string literal. Only '"', '\\' and control
// characters are escaped; everything else, including U+2028 and U+2029, is
// written as literal UTF-8, matching JSON.stringify.
func (e *encoder) str(s string) error {
	if !utf8.ValidString(s) {
		return invalid("string is not valid UTF-8")
	}
	e.buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		e.buf.WriteString(s[start:i])
		switch c {
		case '"', '\\':
			e.buf.WriteByte('\\')
			e.buf.WriteByte(c)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		default:
			fmt.Fprintf(&e.buf, `\u%04x`, c)
		}
		start = i + 1
	}
	e.buf.WriteString(s[start:])
	e.buf.WriteByte('"')
	return nil
}

func (e *encoder) number(s string) error {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		e.buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		e.buf.WriteString(strconv.FormatUint(u, 10))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return invalid("malformed number %q", s)
	}
	out, err := formatFloat(f, 64)
	if err != nil {
		return err
	}
	e.buf.WriteString(out)
	return nil
}

// formatFloat renders f as the shortest decimal that round-trips, switching
// to exponent notation below 1e-6 and at or above 1e21.
func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", invalid("non-finite number %v", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	format := byte('f')
	if bits == 32 {
		a := float32(abs)
		if a < 1e-6 || a >= 1e21 {
			format = 'e'
		}
	} else if abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, bits)
	if format == 'e' {
		// e-09 → e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return string(b), nil
}
