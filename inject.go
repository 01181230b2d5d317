package tcms

import (
	"fmt"

	"github.com/spf13/cast"
)

// Inject is the plain field map the service returns for one object.
// Values arrive JSON-shaped (numbers may be float64), so accessors convert.
type Inject map[string]any

func (in Inject) Int(key string) int       { return cast.ToInt(in[key]) }
func (in Inject) String(key string) string { return cast.ToString(in[key]) }
func (in Inject) Bool(key string) bool     { return cast.ToBool(in[key]) }

func (in Inject) Has(key string) bool {
	v, ok := in[key]
	return ok && v != nil
}

// List returns a nested list of objects, e.g. tags embedded in a case.
func (in Inject) List(key string) ([]Inject, bool) {
	if !in.Has(key) {
		return nil, false
	}
	out, err := injectList(in[key])
	return out, err == nil
}

func toInject(v any) (Inject, bool) {
	switch m := v.(type) {
	case Inject:
		return m, true
	case map[string]any:
		return Inject(m), true
	default:
		return nil, false
	}
}

// injectList converts an RPC result to a list of injects. A single object
// is a list of one.
func injectList(res any) ([]Inject, error) {
	switch v := res.(type) {
	case nil:
		return nil, nil
	case []Inject:
		return v, nil
	case []map[string]any:
		out := make([]Inject, len(v))
		for i, m := range v {
			out[i] = Inject(m)
		}
		return out, nil
	case []any:
		out := make([]Inject, 0, len(v))
		for _, e := range v {
			in, ok := toInject(e)
			if !ok {
				return nil, fmt.Errorf("tcms: unexpected list element %T", e)
			}
			out = append(out, in)
		}
		return out, nil
	default:
		if in, ok := toInject(res); ok {
			return []Inject{in}, nil
		}
		return nil, fmt.Errorf("tcms: unexpected result %T", res)
	}
}

// singleInject accepts a dict or a one-element list.
func singleInject(method string, res any) (Inject, error) {
	list, err := injectList(res)
	if err != nil {
		return nil, err
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("tcms: %s returned %d objects, want 1", method, len(list))
	}
	return list[0], nil
}

// idOrNil encodes an optional reference for a push.
func idOrNil(id int) any {
	if id == 0 {
		return nil
	}
	return id
}
