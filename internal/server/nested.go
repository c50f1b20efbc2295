package server

import (
	"fmt"
	"math"
	"reflect"
)

// nest reshapes a flat row-major slice into nested lists following shape.
// An empty shape yields the single element. Non-finite floats become nil,
// since JSON cannot carry them.
func nest(values any, shape []uint64) (any, error) {
	v := reflect.ValueOf(values)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("cannot reshape %T", values)
	}
	total := uint64(1)
	for _, n := range shape {
		total *= n
	}
	if uint64(v.Len()) != total {
		return nil, fmt.Errorf("%d values do not fill shape %v", v.Len(), shape)
	}
	if len(shape) == 0 {
		return element(v.Index(0)), nil
	}
	out, _ := build(v, 0, shape)
	return out, nil
}

func build(v reflect.Value, off int, shape []uint64) ([]any, int) {
	out := make([]any, shape[0])
	for i := range out {
		if len(shape) == 1 {
			out[i] = element(v.Index(off))
			off++
			continue
		}
		out[i], off = build(v, off, shape[1:])
	}
	return out, off
}

// clean makes a metadata value encodable, replacing non-finite floats in
// scalars and float slices with nil.
func clean(value any) any {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return element(v)
	case reflect.Slice:
		if k := v.Type().Elem().Kind(); k != reflect.Float32 && k != reflect.Float64 {
			return value
		}
		for i := 0; i < v.Len(); i++ {
			f := v.Index(i).Float()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				out := make([]any, v.Len())
				for j := range out {
					out[j] = element(v.Index(j))
				}
				return out
			}
		}
	}
	return value
}

func element(v reflect.Value) any {
	switch x := v.Interface().(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	default:
		return x
	}
}
