package di

import (
	"reflect"
	"strconv"
)

// convert coerces value to t. The accepted conversions are, in order:
//
//   - nil to the zero value of pointers, interfaces, maps, slices, funcs and chans
//   - any value assignable to t
//   - numbers to numbers of another kind when the value fits
//   - strings to bools and numbers, parsed with strconv
//   - []byte to string and string to []byte
func convert(value any, t reflect.Type) (reflect.Value, bool) {
	if value == nil {
		switch t.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return reflect.Zero(t), true
		default:
			return reflect.Value{}, false
		}
	}

	rv := reflect.ValueOf(value)

	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, true
	}

	switch {
	case isNumber(rv.Kind()) && isNumber(t.Kind()):
		return convertNumber(rv, t)
	case rv.Kind() == reflect.String && (isNumber(t.Kind()) || t.Kind() == reflect.Bool):
		out, err := parseString(rv.String(), t)
		return out, err == nil
	case rv.Kind() == reflect.String && isBytes(t), isBytes(rv.Type()) && t.Kind() == reflect.String:
		return rv.Convert(t), true
	}

	return reflect.Value{}, false
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k) || k == reflect.Complex64 || k == reflect.Complex128
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, bool) {
	out := reflect.New(t).Elem()
	from, to := rv.Kind(), t.Kind()

	switch {
	case isInt(from) && isInt(to):
		if out.OverflowInt(rv.Int()) {
			return reflect.Value{}, false
		}
		out.SetInt(rv.Int())
	case isInt(from) && isUint(to):
		if rv.Int() < 0 || out.OverflowUint(uint64(rv.Int())) {
			return reflect.Value{}, false
		}
		out.SetUint(uint64(rv.Int()))
	case isUint(from) && isUint(to):
		if out.OverflowUint(rv.Uint()) {
			return reflect.Value{}, false
		}
		out.SetUint(rv.Uint())
	case isUint(from) && isInt(to):
		if rv.Uint() > uint64(1<<63-1) || out.OverflowInt(int64(rv.Uint())) {
			return reflect.Value{}, false
		}
		out.SetInt(int64(rv.Uint()))
	case isFloat(to) && !isFloat(from) && (isInt(from) || isUint(from)):
		out.Set(rv.Convert(t))
	case isFloat(from) && isFloat(to):
		if out.OverflowFloat(rv.Float()) {
			return reflect.Value{}, false
		}
		out.SetFloat(rv.Float())
	case (from == reflect.Complex64 || from == reflect.Complex128) && (to == reflect.Complex64 || to == reflect.Complex128):
		out.Set(rv.Convert(t))
	default:
		// Floats and complex numbers never narrow into integers implicitly.
		return reflect.Value{}, false
	}

	return out, true
}

// parseString parses s into a value of the primitive type t.
func parseString(s string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()

	switch k := t.Kind(); {
	case k == reflect.String:
		out.SetString(s)
	case k == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case isInt(k):
		i, err := strconv.ParseInt(s, 0, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(i)
	case isUint(k):
		u, err := strconv.ParseUint(s, 0, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(u)
	case isFloat(k):
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	case k == reflect.Complex64 || k == reflect.Complex128:
		c, err := strconv.ParseComplex(s, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetComplex(c)
	default:
		return reflect.Value{}, errorf(ErrTypeMismatch, "cannot parse %q into %s", s, t)
	}

	return out, nil
}
