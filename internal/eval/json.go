package eval

import (
	"encoding/json"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
)

// evalJSONOp implements PostgreSQL's jsonb operators. Per the documented
// divergence from stock PostgreSQL (kept deliberately, see DESIGN.md):
// -> always returns a typed JSON value (object/array/number/bool/null
// stay structured) while ->> always returns text, matching PostgreSQL's
// contract but implemented here without PostgreSQL's numeric/jsonb OID
// distinction since this engine has a single JSON value type.
func evalJSONOp(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() {
		return value.Null(jsonResultType(op)), nil
	}
	if l.Typ != value.TypeJSON {
		return value.Value{}, errs.New(errs.TypeMismatch, "operator %q requires a json operand", op)
	}
	switch op {
	case "->":
		if r.IsNull() {
			return value.Null(value.TypeJSON), nil
		}
		v, ok := jsonGet(l.JSON, r)
		if !ok {
			return value.Null(value.TypeJSON), nil
		}
		return value.JSONVal(v), nil
	case "->>":
		if r.IsNull() {
			return value.Null(value.TypeText), nil
		}
		v, ok := jsonGet(l.JSON, r)
		if !ok {
			return value.Null(value.TypeText), nil
		}
		return value.Text(jsonToText(v)), nil
	case "#>", "#>>":
		if r.IsNull() || r.Typ != value.TypeArray {
			return value.Value{}, errs.New(errs.TypeMismatch, "%q requires a text array path", op)
		}
		cur := l.JSON
		ok := true
		for _, elem := range r.Arr {
			cur, ok = jsonGet(cur, elem)
			if !ok {
				break
			}
		}
		if !ok {
			if op == "#>" {
				return value.Null(value.TypeJSON), nil
			}
			return value.Null(value.TypeText), nil
		}
		if op == "#>" {
			return value.JSONVal(cur), nil
		}
		return value.Text(jsonToText(cur)), nil
	case "@>":
		if r.IsNull() || r.Typ != value.TypeJSON {
			return value.Value{}, errs.New(errs.TypeMismatch, "@> requires two json operands")
		}
		return value.Bool(jsonContains(l.JSON, r.JSON)), nil
	case "<@":
		if r.IsNull() || r.Typ != value.TypeJSON {
			return value.Value{}, errs.New(errs.TypeMismatch, "<@ requires two json operands")
		}
		return value.Bool(jsonContains(r.JSON, l.JSON)), nil
	case "?":
		if r.IsNull() {
			return value.Null(value.TypeBool), nil
		}
		return value.Bool(jsonHasKey(l.JSON, r.Str)), nil
	case "?|":
		return value.Bool(jsonHasAnyKey(l.JSON, r)), nil
	case "?&":
		return value.Bool(jsonHasAllKeys(l.JSON, r)), nil
	default:
		return value.Value{}, errs.New(errs.FeatureNotSupported, "unsupported json operator %q", op)
	}
}

func jsonResultType(op string) value.Type {
	if op == "->>" || op == "#>>" {
		return value.TypeText
	}
	return value.TypeJSON
}

// jsonGet resolves one step of a json path: key lookup into an object
// (keyed by r.Str) or index lookup into an array (keyed by r.Int).
func jsonGet(cur any, key value.Value) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		keyStr := key.Str
		if key.Typ != value.TypeText {
			keyStr = key.String()
		}
		v, ok := c[keyStr]
		return v, ok
	case []any:
		idx := key.Int
		if idx < 0 {
			idx += int64(len(c))
		}
		if idx < 0 || idx >= int64(len(c)) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

func jsonToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func jsonHasKey(cur any, key string) bool {
	m, ok := cur.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

func jsonHasAnyKey(cur any, keys value.Value) bool {
	if keys.Typ != value.TypeArray {
		return false
	}
	for _, k := range keys.Arr {
		if !k.IsNull() && jsonHasKey(cur, k.Str) {
			return true
		}
	}
	return false
}

func jsonHasAllKeys(cur any, keys value.Value) bool {
	if keys.Typ != value.TypeArray {
		return false
	}
	for _, k := range keys.Arr {
		if k.IsNull() || !jsonHasKey(cur, k.Str) {
			return false
		}
	}
	return true
}

// jsonContains implements @>/<@ containment: objects contain when every
// key of the candidate is present with a containing value, arrays contain
// when every candidate element is contained by some outer element,
// scalars contain when deep-equal.
func jsonContains(outer, inner any) bool {
	switch o := outer.(type) {
	case map[string]any:
		in, ok := inner.(map[string]any)
		if !ok {
			return false
		}
		for k, iv := range in {
			ov, ok := o[k]
			if !ok || !jsonContains(ov, iv) {
				return false
			}
		}
		return true
	case []any:
		in, ok := inner.([]any)
		if !ok {
			// PostgreSQL allows a bare scalar to be "contained" by an array holding it
			for _, ov := range o {
				if jsonContains(ov, inner) {
					return true
				}
			}
			return false
		}
		for _, ie := range in {
			found := false
			for _, ov := range o {
				if jsonContains(ov, ie) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return jsonScalarEqual(outer, inner)
	}
}

func jsonScalarEqual(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == nil && b == nil
}
