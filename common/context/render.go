package context

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasttemplate"
)

// ErrUndefined is returned by strict rendering when a template references a
// path absent from the context (spec.md §4.5's "strict-undefined" rule).
type ErrUndefined struct {
	Path string
}

func (e *ErrUndefined) Error() string {
	return fmt.Sprintf("undefined template variable: %s", e.Path)
}

// renderAny walks template recursively the way the teacher's resolver walks
// a node config (string/map/slice/primitive), substituting `{{ path }}`
// placeholders resolved against ctxJSON via gjson. strict controls whether a
// missing path is an error (task bodies) or passed through unrendered (work
// blocks), per §4.5's rendering rules.
func renderAny(value any, ctxJSON []byte, strict bool) (any, error) {
	switch v := value.(type) {
	case string:
		return renderString(v, ctxJSON, strict)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rendered, err := renderAny(item, ctxJSON, strict)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := renderAny(item, ctxJSON, strict)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

func renderString(s string, ctxJSON []byte, strict bool) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	tpl, err := fasttemplate.New(s, "{{", "}}")
	if err != nil {
		// Not a well-formed template (unbalanced tags) — pass through, the
		// same non-strict "leave unresolved" behavior as a missing path.
		return s, nil
	}

	// wholeExpr is set when the entire string is exactly one placeholder,
	// e.g. "{{ work.count }}" — in that case the resolved JSON value's type
	// is preserved instead of being stringified, matching Jinja2's behavior
	// of returning the object itself rather than its string form.
	wholeExpr, isWhole := soleTag(s)
	if isWhole {
		result := gjson.GetBytes(ctxJSON, strings.TrimSpace(wholeExpr))
		if !result.Exists() {
			if strict {
				return nil, &ErrUndefined{Path: wholeExpr}
			}
			return s, nil
		}
		return result.Value(), nil
	}

	var renderErr error
	rendered := tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		path := strings.TrimSpace(tag)
		result := gjson.GetBytes(ctxJSON, path)
		if !result.Exists() {
			if strict && renderErr == nil {
				renderErr = &ErrUndefined{Path: path}
			}
			return w.Write([]byte("{{" + tag + "}}"))
		}
		return w.Write([]byte(result.String()))
	})
	if renderErr != nil {
		return nil, renderErr
	}
	return rendered, nil
}

// soleTag reports whether s is exactly one `{{ ... }}` placeholder with no
// surrounding text, returning the inner expression.
func soleTag(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}

func marshalContext(ctx map[string]any) ([]byte, error) {
	b, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("marshal rendering context: %w", err)
	}
	return b, nil
}
