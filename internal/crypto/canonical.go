package crypto

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	timeType    = reflect.TypeOf(time.Time{})
	numberType  = reflect.TypeOf(json.Number(""))
)

// Canonicalize encodes v as canonical JSON: object keys sorted and NFC-normalized, absent values
// dropped from objects, integers only. Amounts (decimal.Decimal) are written as exact strings and
// timestamps as UTC RFC 3339 so a digest never depends on float rounding or the host zone.
//
// Structs are encoded through their json tags; "-" skips a field and omitempty drops zero values.
func Canonicalize(v any) ([]byte, error) {
	enc := &encoder{}
	if err := enc.value(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

type member struct {
	name string
	val  reflect.Value
}

func (e *encoder) value(rv reflect.Value) error {
	rv = deref(rv)
	if !rv.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	switch rv.Type() {
	case decimalType:
		return e.str(rv.Interface().(decimal.Decimal).String())
	case timeType:
		return e.str(rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
	case numberType:
		return e.number(json.Number(rv.String()))
	}

	switch rv.Kind() {
	case reflect.String:
		return e.str(rv.String())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return ErrFloatNotAllowed
	case reflect.Map:
		members, err := mapMembers(rv)
		if err != nil {
			return err
		}
		return e.object(members)
	case reflect.Struct:
		members, err := structMembers(rv)
		if err != nil {
			return err
		}
		return e.object(members)
	case reflect.Slice:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.array(rv)
	case reflect.Array:
		return e.array(rv)
	default:
		return ErrUnsupportedType
	}
	return nil
}

func (e *encoder) str(s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	e.buf.Write(encoded)
	return nil
}

// number accepts integral json.Number values, including the "100.00" form a decimal
// round-trip produces, and writes the bare integer.
func (e *encoder) number(n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, "eE") {
		return ErrFloatNotAllowed
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		e.buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return ErrFloatNotAllowed
	}
	e.buf.WriteString(d.String())
	return nil
}

func (e *encoder) object(members []member) error {
	slices.SortFunc(members, func(a, b member) int { return strings.Compare(a.name, b.name) })

	e.buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.str(m.name); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.value(m.val); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(rv reflect.Value) error {
	e.buf.WriteByte('[')
	for i := range rv.Len() {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(rv.Index(i)); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func mapMembers(rv reflect.Value) ([]member, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, ErrNonStringMapKey
	}
	members := make([]member, 0, rv.Len())
	seen := make(map[string]struct{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		name := norm.NFC.String(iter.Key().String())
		if _, dup := seen[name]; dup {
			return nil, ErrKeyCollision
		}
		seen[name] = struct{}{}
		if absent(iter.Value()) {
			continue
		}
		members = append(members, member{name: name, val: iter.Value()})
	}
	return members, nil
}

func structMembers(rv reflect.Value) ([]member, error) {
	t := rv.Type()
	members := make([]member, 0, t.NumField())
	seen := make(map[string]struct{}, t.NumField())
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseTag(field)
		if skip {
			continue
		}
		val := rv.Field(i)
		if absent(val) || (omitEmpty && val.IsZero()) {
			continue
		}
		name = norm.NFC.String(name)
		if _, dup := seen[name]; dup {
			return nil, ErrKeyCollision
		}
		seen[name] = struct{}{}
		members = append(members, member{name: name, val: val})
	}
	return members, nil
}

func parseTag(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func deref(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// absent reports whether a member holds no value at all; such members are left out of objects.
func absent(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
