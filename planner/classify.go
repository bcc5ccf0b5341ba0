package planner

import "reflect"

// staticParam is a parameter folded into kernel source as a compile-time
// constant.
type staticParam struct {
	name  string
	value float64
}

// classifyParameters partitions parameter bindings into static scalars and
// per-element collections. Collection-bound parameters join the dynamic path
// and are validated alongside inputs; anything else must coerce to a float.
// This step is pure: it inspects bindings and builds the partition, nothing
// more.
func classifyParameters(params []*Binding) ([]staticParam, []*Binding, error) {
	var statics []staticParam
	var dynamics []*Binding

	for _, p := range params {
		if p.coll != nil {
			dynamics = append(dynamics, p)
			continue
		}
		v, ok := toFloat(p.value)
		if !ok {
			return nil, nil, &TypeConversionError{Name: p.name, Value: p.value}
		}
		statics = append(statics, staticParam{name: p.name, value: v})
	}
	return statics, dynamics, nil
}

// toFloat coerces any numeric kind to float64
func toFloat(value interface{}) (float64, bool) {
	if value == nil {
		return 0, false
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
