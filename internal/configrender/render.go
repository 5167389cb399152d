package configrender

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ankaios/ankaios/internal/wire"
)

var (
	// inlineRe matches a scalar substitution anywhere in a line: {{identifier}}.
	inlineRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

	// blockRe matches an indent-aware block tag that must occupy its own
	// line: leading whitespace, {{#identifier}}, trailing whitespace.
	blockRe = regexp.MustCompile(`^([ \t]*)\{\{#([A-Za-z_][A-Za-z0-9_]*)\}\}[ \t]*$`)
)

// RenderString expands every `{{identifier}}` and indent-aware
// `{{#identifier}}` block tag in text against scope. A block tag must be the
// only content on its line; its captured leading whitespace is carried into
// every inserted line so multi-line insertions stay valid YAML under the
// consumer's indentation.
func RenderString(text string, scope Scope) (string, error) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if m := blockRe.FindStringSubmatch(line); m != nil {
			indent, ident := m[1], m[2]
			item, ok := scope[ident]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrRenderMissingConfig, ident)
			}
			rendered, err := renderBlock(indent, item)
			if err != nil {
				return "", fmt.Errorf("%q: %w", ident, err)
			}
			out = append(out, rendered...)
			continue
		}
		rendered, err := renderInline(line, scope)
		if err != nil {
			return "", err
		}
		out = append(out, rendered)
	}
	return strings.Join(out, "\n"), nil
}

func renderInline(line string, scope Scope) (string, error) {
	var outerErr error
	result := inlineRe.ReplaceAllStringFunc(line, func(match string) string {
		ident := inlineRe.FindStringSubmatch(match)[1]
		item, ok := scope[ident]
		if !ok {
			outerErr = fmt.Errorf("%w: %q", ErrRenderMissingConfig, ident)
			return match
		}
		if !item.IsString() {
			outerErr = fmt.Errorf("%w: %q", ErrNotAScalar, ident)
			return match
		}
		return *item.String
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// renderBlock expands item into one or more lines, each prefixed by indent.
// Array items render one element per line; Object items render sorted
// "key: value" pairs. Nested Array/Object elements are not supported by the
// block form: this minimal engine does not recurse into them, and such items
// fail with ErrNotASequenceOrObject.
func renderBlock(indent string, item wire.ConfigItem) ([]string, error) {
	switch {
	case item.Array != nil:
		lines := make([]string, 0, len(item.Array))
		for _, el := range item.Array {
			if !el.IsString() {
				return nil, ErrNotASequenceOrObject
			}
			lines = append(lines, indent+*el.String)
		}
		return lines, nil
	case item.Object != nil:
		keys := make([]string, 0, len(item.Object))
		for k := range item.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			v := item.Object[k]
			if !v.IsString() {
				return nil, ErrNotASequenceOrObject
			}
			lines = append(lines, indent+k+": "+*v.String)
		}
		return lines, nil
	default:
		return nil, ErrNotASequenceOrObject
	}
}

// RenderWorkload expands the Agent, RuntimeConfig, and every File's
// Data/BinaryData field of wl against scope, returning a new Workload left
// otherwise unchanged. Workloads with an empty Configs mapping should not be
// passed through RenderWorkload at all; callers pass them through unchanged.
func RenderWorkload(wl wire.Workload, scope Scope) (wire.Workload, error) {
	out := wl

	if wl.Agent != "" {
		agent, err := RenderString(wl.Agent, scope)
		if err != nil {
			return wire.Workload{}, fmt.Errorf("agent: %w", err)
		}
		out.Agent = agent
	}

	runtimeConfig, err := RenderString(wl.RuntimeConfig, scope)
	if err != nil {
		return wire.Workload{}, fmt.Errorf("runtimeConfig: %w", err)
	}
	out.RuntimeConfig = runtimeConfig

	if len(wl.Files) > 0 {
		files := make([]wire.File, len(wl.Files))
		for i, f := range wl.Files {
			rf := f
			if f.Data != "" {
				d, err := RenderString(f.Data, scope)
				if err != nil {
					return wire.Workload{}, fmt.Errorf("files[%d].data: %w", i, err)
				}
				rf.Data = d
			}
			if f.BinaryData != "" {
				d, err := RenderString(f.BinaryData, scope)
				if err != nil {
					return wire.Workload{}, fmt.Errorf("files[%d].binaryData: %w", i, err)
				}
				rf.BinaryData = d
			}
			files[i] = rf
		}
		out.Files = files
	}

	return out, nil
}
