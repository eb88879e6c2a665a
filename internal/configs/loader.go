package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/internal/engine"
	"github.com/terrane-io/terrane/internal/ir"
)

// DefaultFilename is the conventional entrypoint for a configuration.
const DefaultFilename = "main.trn.hcl"

// FileSuffix identifies configuration files.
const FileSuffix = ".trn.hcl"

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "terrane"},
		{Type: "variable", LabelNames: []string{"name"}},
		{Type: "locals"},
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "output", LabelNames: []string{"name"}},
	},
}

var terraneSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "backend", LabelNames: []string{"type"}},
	},
}

var variableSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "default"},
		{Name: "description"},
		{Name: "type"},
	},
}

var outputSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "value", Required: true},
		{Name: "description"},
		{Name: "sensitive"},
	},
}

var lifecycleSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "create_before_destroy"},
		{Name: "prevent_destroy"},
		{Name: "ignore_changes"},
	},
}

// resourceDecl is a parsed resource block before expression evaluation.
type resourceDecl struct {
	typ     string
	name    string
	body    *hclsyntax.Body
	count   int
	forEach map[string]any
	rng     hcl.Range
}

func (d *resourceDecl) addr() string {
	return d.typ + "." + d.name
}

// Parser loads and evaluates configuration files.
type Parser struct {
	p *hclparse.Parser
}

func NewParser() *Parser {
	return &Parser{p: hclparse.NewParser()}
}

// LoadDir loads every *.trn.hcl file in dir as one configuration. The
// overrides map carries --var flag values, which shadow variable defaults.
func (p *Parser) LoadDir(dir string, overrides map[string]string) (*ir.Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), FileSuffix) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", FileSuffix, dir)
	}
	sort.Strings(paths)
	return p.load(paths, overrides)
}

// LoadFile loads a single configuration file.
func (p *Parser) LoadFile(path string, overrides map[string]string) (*ir.Config, error) {
	return p.load([]string{path}, overrides)
}

func (p *Parser) load(paths []string, overrides map[string]string) (*ir.Config, error) {
	var (
		backendBlock *hcl.Block
		varBlocks    []*hcl.Block
		localBodies  []*hclsyntax.Body
		resDecls     []*resourceDecl
		outBlocks    []*hcl.Block
	)

	for _, path := range paths {
		file, diags := p.p.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
		}
		content, diags := file.Body.Content(rootSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid config in %s: %w", path, diags)
		}

		for _, block := range content.Blocks {
			switch block.Type {
			case "terrane":
				tc, diags := block.Body.Content(terraneSchema)
				if diags.HasErrors() {
					return nil, fmt.Errorf("invalid terrane block in %s: %w", path, diags)
				}
				for _, inner := range tc.Blocks {
					if backendBlock != nil {
						return nil, fmt.Errorf("duplicate backend block at %s", inner.DefRange)
					}
					backendBlock = inner
				}
			case "variable":
				varBlocks = append(varBlocks, block)
			case "locals":
				body, ok := block.Body.(*hclsyntax.Body)
				if !ok {
					return nil, fmt.Errorf("locals block at %s is not native syntax", block.DefRange)
				}
				localBodies = append(localBodies, body)
			case "resource":
				body, ok := block.Body.(*hclsyntax.Body)
				if !ok {
					return nil, fmt.Errorf("resource block at %s is not native syntax", block.DefRange)
				}
				resDecls = append(resDecls, &resourceDecl{
					typ:  block.Labels[0],
					name: block.Labels[1],
					body: body,
					rng:  block.DefRange,
				})
			case "output":
				outBlocks = append(outBlocks, block)
			}
		}
	}

	variables, err := evalVariables(varBlocks, overrides)
	if err != nil {
		return nil, err
	}
	locals, err := evalLocals(localBodies, variables)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(resDecls))
	for _, decl := range resDecls {
		if declared[decl.addr()] {
			return nil, fmt.Errorf("duplicate resource %s at %s", decl.addr(), decl.rng)
		}
		declared[decl.addr()] = true
	}

	// count and for_each are evaluated before resource placeholders exist, so
	// they may reference variables and locals but not other resources.
	baseCtx := evalContext(variables, locals, nil)
	for _, decl := range resDecls {
		if err := decl.evalMeta(baseCtx); err != nil {
			return nil, err
		}
	}

	subjects := make(map[string]*hclsyntax.Body, len(resDecls))
	for _, decl := range resDecls {
		subjects[decl.addr()] = decl.body
	}
	for _, block := range outBlocks {
		if body, ok := block.Body.(*hclsyntax.Body); ok {
			subjects["output."+block.Labels[0]] = body
		}
	}
	refAttrs, err := scanResourceRefs(subjects, declared)
	if err != nil {
		return nil, err
	}

	ctx := evalContext(variables, locals, placeholderVars(resDecls, refAttrs))

	cfg := &ir.Config{}
	if backendBlock != nil {
		backend, err := evalBackend(backendBlock, baseCtx)
		if err != nil {
			return nil, err
		}
		cfg.Backend = backend
	}
	for _, decl := range resDecls {
		res, err := decl.evalResource(ctx, declared)
		if err != nil {
			return nil, err
		}
		cfg.Resources = append(cfg.Resources, res)
	}
	if len(outBlocks) > 0 {
		cfg.Outputs = make(map[string]any, len(outBlocks))
		for _, block := range outBlocks {
			name := block.Labels[0]
			oc, diags := block.Body.Content(outputSchema)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid output %q: %w", name, diags)
			}
			val, diags := oc.Attributes["value"].Expr.Value(ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to evaluate output %q: %w", name, diags)
			}
			goVal, err := ctyToGo(val)
			if err != nil {
				return nil, fmt.Errorf("output %q: %w", name, err)
			}
			cfg.Outputs[name] = goVal
		}
	}

	return cfg, nil
}

func evalVariables(blocks []*hcl.Block, overrides map[string]string) (map[string]cty.Value, error) {
	ctx := &hcl.EvalContext{Functions: evalFunctions()}
	out := make(map[string]cty.Value, len(blocks))

	for _, block := range blocks {
		name := block.Labels[0]
		vc, diags := block.Body.Content(variableSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid variable %q: %w", name, diags)
		}
		if raw, ok := overrides[name]; ok {
			out[name] = parseOverride(raw)
			continue
		}
		attr, ok := vc.Attributes["default"]
		if !ok {
			return nil, fmt.Errorf("variable %q has no default and no --var override", name)
		}
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate default for variable %q: %w", name, diags)
		}
		out[name] = val
	}

	for name := range overrides {
		if _, ok := out[name]; !ok {
			return nil, fmt.Errorf("--var %s: no such variable declared", name)
		}
	}
	return out, nil
}

// parseOverride converts a --var string to the most specific value it reads as.
func parseOverride(raw string) cty.Value {
	if b, err := strconv.ParseBool(raw); err == nil {
		return cty.BoolVal(b)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return cty.NumberIntVal(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return cty.NumberFloatVal(f)
	}
	return cty.StringVal(raw)
}

// evalLocals resolves locals to a fixpoint so they may reference each other
// in any declaration order.
func evalLocals(bodies []*hclsyntax.Body, variables map[string]cty.Value) (map[string]cty.Value, error) {
	pending := make(map[string]hcl.Expression)
	for _, body := range bodies {
		for name, attr := range body.Attributes {
			if _, dup := pending[name]; dup {
				return nil, fmt.Errorf("duplicate local %q", name)
			}
			pending[name] = attr.Expr
		}
	}

	locals := make(map[string]cty.Value, len(pending))
	for len(pending) > 0 {
		progress := false
		var lastDiags hcl.Diagnostics
		for name, expr := range pending {
			ctx := evalContext(variables, locals, nil)
			val, diags := expr.Value(ctx)
			if diags.HasErrors() {
				lastDiags = diags
				continue
			}
			locals[name] = val
			delete(pending, name)
			progress = true
		}
		if !progress {
			return nil, fmt.Errorf("failed to evaluate locals: %w", lastDiags)
		}
	}
	return locals, nil
}

func evalBackend(block *hcl.Block, ctx *hcl.EvalContext) (*ir.BackendConfig, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid backend block: %w", diags)
	}
	cfg := make(map[string]string, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate backend attribute %q: %w", name, diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return nil, fmt.Errorf("backend attribute %q: %w", name, err)
		}
		cfg[name] = fmt.Sprintf("%v", goVal)
	}
	return &ir.BackendConfig{Type: block.Labels[0], Config: cfg}, nil
}

// evalMeta evaluates count and for_each ahead of the main pass.
func (d *resourceDecl) evalMeta(ctx *hcl.EvalContext) error {
	if attr, ok := d.body.Attributes["count"]; ok {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return fmt.Errorf("failed to evaluate count for %s: %w", d.addr(), diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return fmt.Errorf("count for %s: %w", d.addr(), err)
		}
		n, ok := goVal.(int)
		if !ok || n < 0 {
			return fmt.Errorf("count for %s must be a non-negative whole number", d.addr())
		}
		d.count = n
	}
	if attr, ok := d.body.Attributes["for_each"]; ok {
		if d.count > 0 {
			return fmt.Errorf("resource %s sets both count and for_each", d.addr())
		}
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return fmt.Errorf("failed to evaluate for_each for %s: %w", d.addr(), diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return fmt.Errorf("for_each for %s: %w", d.addr(), err)
		}
		m, ok := goVal.(map[string]any)
		if !ok {
			return fmt.Errorf("for_each for %s must be a map", d.addr())
		}
		d.forEach = m
	}
	return nil
}

// evalResource evaluates the resource body into an ir.Resource. Nested blocks
// other than lifecycle become lists of objects under the block type name.
func (d *resourceDecl) evalResource(ctx *hcl.EvalContext, declared map[string]bool) (*ir.Resource, error) {
	res := &ir.Resource{
		Type:       d.typ,
		Name:       d.name,
		Provider:   providerForType(d.typ),
		Count:      d.count,
		ForEach:    d.forEach,
		Properties: make(map[string]any),
	}

	for name, attr := range d.body.Attributes {
		switch name {
		case "count", "for_each":
			continue
		case "provider":
			val, diags := attr.Expr.Value(ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to evaluate provider for %s: %w", d.addr(), diags)
			}
			res.Provider = val.AsString()
		case "timeout":
			val, diags := attr.Expr.Value(ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to evaluate timeout for %s: %w", d.addr(), diags)
			}
			res.Timeout = val.AsString()
		case "depends_on":
			deps, err := decodeDependsOn(attr.Expr, declared, d.addr())
			if err != nil {
				return nil, err
			}
			res.DependsOn = deps
		default:
			val, diags := attr.Expr.Value(ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("failed to evaluate %s.%s: %w", d.addr(), name, diags)
			}
			goVal, err := ctyToGo(val)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", d.addr(), name, err)
			}
			res.Properties[name] = goVal
		}
	}

	for _, blk := range d.body.Blocks {
		if blk.Type == "lifecycle" {
			lc, err := decodeLifecycle(blk, ctx, d.addr())
			if err != nil {
				return nil, err
			}
			res.Lifecycle = lc
			continue
		}
		obj, err := evalBlockObject(blk.Body, ctx, d.addr())
		if err != nil {
			return nil, err
		}
		existing, _ := res.Properties[blk.Type].([]any)
		res.Properties[blk.Type] = append(existing, obj)
	}

	return res, nil
}

func evalBlockObject(body *hclsyntax.Body, ctx *hcl.EvalContext, subject string) (map[string]any, error) {
	obj := make(map[string]any)
	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate %s block attribute %q: %w", subject, name, diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return nil, fmt.Errorf("%s block attribute %q: %w", subject, name, err)
		}
		obj[name] = goVal
	}
	for _, blk := range body.Blocks {
		inner, err := evalBlockObject(blk.Body, ctx, subject)
		if err != nil {
			return nil, err
		}
		existing, _ := obj[blk.Type].([]any)
		obj[blk.Type] = append(existing, inner)
	}
	return obj, nil
}

// decodeDependsOn reads depends_on entries as bare resource references
// (aws_vpc.main) and returns their addresses.
func decodeDependsOn(expr hcl.Expression, declared map[string]bool, subject string) ([]string, error) {
	exprs, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("depends_on for %s must be a list of resource references: %w", subject, diags)
	}
	var out []string
	for _, e := range exprs {
		travs := e.Variables()
		if len(travs) != 1 || len(travs[0]) < 2 {
			return nil, fmt.Errorf("depends_on entries for %s must be resource references", subject)
		}
		trav := travs[0]
		nameStep, ok := trav[1].(hcl.TraverseAttr)
		if !ok {
			return nil, fmt.Errorf("depends_on entries for %s must be resource references", subject)
		}
		base := trav.RootName() + "." + nameStep.Name
		if !declared[base] {
			return nil, &engine.UnresolvedReferenceError{Subject: subject, Reference: base}
		}
		out = append(out, base)
	}
	return out, nil
}

func decodeLifecycle(block *hclsyntax.Block, ctx *hcl.EvalContext, subject string) (*ir.Lifecycle, error) {
	lc := &ir.Lifecycle{}
	content, diags := block.Body.Content(lifecycleSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid lifecycle block for %s: %w", subject, diags)
	}
	if attr, ok := content.Attributes["create_before_destroy"]; ok {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("lifecycle for %s: %w", subject, diags)
		}
		lc.CreateBeforeDestroy = val.True()
	}
	if attr, ok := content.Attributes["prevent_destroy"]; ok {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("lifecycle for %s: %w", subject, diags)
		}
		lc.PreventDestroy = val.True()
	}
	if attr, ok := content.Attributes["ignore_changes"]; ok {
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("lifecycle for %s: %w", subject, diags)
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return nil, fmt.Errorf("lifecycle for %s: %w", subject, err)
		}
		list, ok := goVal.([]any)
		if !ok {
			return nil, fmt.Errorf("ignore_changes for %s must be a list of attribute names", subject)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("ignore_changes for %s must be a list of attribute names", subject)
			}
			lc.IgnoreChanges = append(lc.IgnoreChanges, s)
		}
	}
	return lc, nil
}

// providerForType infers the provider from the resource type prefix:
// aws_security_group belongs to the aws provider.
func providerForType(typ string) string {
	if i := strings.Index(typ, "_"); i > 0 {
		return typ[:i]
	}
	return typ
}
