package configs

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/internal/engine"
)

// evalContext builds the hcl.EvalContext for config expressions: variables,
// locals, the count/each substitution tokens, and one placeholder object per
// declared resource whose attributes evaluate to ref:// strings.
func evalContext(variables, locals map[string]cty.Value, resourceVars map[string]cty.Value) *hcl.EvalContext {
	vars := map[string]cty.Value{
		"var":   cty.ObjectVal(variables),
		"local": cty.ObjectVal(locals),
		"count": cty.ObjectVal(map[string]cty.Value{
			"index": cty.StringVal("${count.index}"),
		}),
		"each": cty.ObjectVal(map[string]cty.Value{
			"key":   cty.StringVal("${each.key}"),
			"value": cty.StringVal("${each.value}"),
		}),
	}
	for root, val := range resourceVars {
		vars[root] = val
	}
	return &hcl.EvalContext{
		Variables: vars,
		Functions: evalFunctions(),
	}
}

// scanResourceRefs walks every expression under the given bodies and records
// which attributes of which resources are referenced. A reference to a
// resource that was never declared fails with *UnresolvedReferenceError.
func scanResourceRefs(subjects map[string]*hclsyntax.Body, declared map[string]bool) (map[string]map[string]bool, error) {
	attrs := make(map[string]map[string]bool)

	for subject, body := range subjects {
		for _, expr := range bodyExpressions(body) {
			for _, trav := range expr.Variables() {
				root := trav.RootName()
				switch root {
				case "var", "local", "count", "each":
					continue
				}
				if len(trav) < 2 {
					return nil, &engine.UnresolvedReferenceError{Subject: subject, Reference: root}
				}
				nameStep, ok := trav[1].(hcl.TraverseAttr)
				if !ok {
					return nil, &engine.UnresolvedReferenceError{Subject: subject, Reference: root}
				}
				base := root + "." + nameStep.Name
				if !declared[base] {
					return nil, &engine.UnresolvedReferenceError{Subject: subject, Reference: base}
				}
				if attrs[base] == nil {
					attrs[base] = make(map[string]bool)
				}
				// The output attribute is the first attr step past the
				// resource name, skipping an instance index if present.
				for _, step := range trav[2:] {
					if a, ok := step.(hcl.TraverseAttr); ok {
						attrs[base][a.Name] = true
						break
					}
				}
			}
		}
	}
	return attrs, nil
}

func bodyExpressions(body *hclsyntax.Body) []hcl.Expression {
	var out []hcl.Expression
	for _, attr := range body.Attributes {
		out = append(out, attr.Expr)
	}
	for _, blk := range body.Blocks {
		out = append(out, bodyExpressions(blk.Body)...)
	}
	return out
}

// placeholderVars builds the per-type resource variables. Each instance is an
// object whose referenced attributes are ref:// placeholder strings; counted
// resources become tuples, for_each resources become objects keyed by each key.
func placeholderVars(decls []*resourceDecl, refAttrs map[string]map[string]bool) map[string]cty.Value {
	byType := make(map[string]map[string]cty.Value)

	for _, decl := range decls {
		base := decl.addr()
		attrSet := refAttrs[base]
		if len(attrSet) == 0 {
			attrSet = map[string]bool{"id": true}
		}

		instance := func(addr string) cty.Value {
			m := make(map[string]cty.Value, len(attrSet))
			for attr := range attrSet {
				m[attr] = cty.StringVal(engine.RefPrefix + addr + "/" + attr)
			}
			return cty.ObjectVal(m)
		}

		var val cty.Value
		switch {
		case decl.count > 0:
			vals := make([]cty.Value, decl.count)
			for i := range vals {
				vals[i] = instance(fmt.Sprintf("%s.%s[%d]", decl.typ, decl.name, i))
			}
			val = cty.TupleVal(vals)
		case len(decl.forEach) > 0:
			keys := make([]string, 0, len(decl.forEach))
			for k := range decl.forEach {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			m := make(map[string]cty.Value, len(keys))
			for _, k := range keys {
				m[k] = instance(fmt.Sprintf("%s.%s[%q]", decl.typ, decl.name, k))
			}
			val = cty.ObjectVal(m)
		default:
			val = instance(base)
		}

		if byType[decl.typ] == nil {
			byType[decl.typ] = make(map[string]cty.Value)
		}
		byType[decl.typ][decl.name] = val
	}

	out := make(map[string]cty.Value, len(byType))
	for typ, names := range byType {
		out[typ] = cty.ObjectVal(names)
	}
	return out
}

// ctyToGo converts an evaluated cty value into plain Go values suitable for
// JSON round-tripping. Whole numbers become int, everything else float64.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return int(i), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			g, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			g, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = g
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", t.FriendlyName())
}
