package expressions

import (
	"encoding/json"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/itchyny/gojq"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Template is a compiled mustache-like template. Supported tags:
//
//	{{path}}       value at path; objects and arrays as compact JSON
//	{{{path}}}     same as {{path}}, output is never escaped
//	{{json path}}  value at path as indented JSON, null included
//	{{! text}}     comment, renders nothing
//
// Missing paths render as the empty string, and so do null values outside
// {{json}}. Templates cannot call functions,
// only substitute values.
type Template struct {
	src   string
	parts []part
}

type partKind int

const (
	partText partKind = iota
	partValue
	partJSON
)

type part struct {
	kind partKind
	text string
	path string
	code *gojq.Code
}

// TemplateEngine compiles templates and keeps the most recently used ones by
// source. Safe for concurrent use.
type TemplateEngine struct {
	templates *lru.Cache[string, *Template]
	paths     *jqCache
}

// NewTemplateEngine creates an engine caching up to size templates and as
// many compiled paths; size <= 0 means DefaultCacheSize.
func NewTemplateEngine(size int) *TemplateEngine {
	return &TemplateEngine{
		templates: newLRU[*Template](size),
		paths:     newJQCache(size),
	}
}

var defaultEngine = NewTemplateEngine(DefaultCacheSize)

// Render compiles src with the shared engine and renders it against data.
func Render(src string, data map[string]any) (string, error) {
	return defaultEngine.Render(src, data)
}

// Render compiles (or reuses) src and renders it against data.
func (e *TemplateEngine) Render(src string, data map[string]any) (string, error) {
	tpl, err := e.Compile(src)
	if err != nil {
		return "", err
	}
	return tpl.Render(data)
}

// Compile parses src. Only malformed templates fail: an unclosed tag, an
// empty tag, an unsupported block or partial, or a bad path.
func (e *TemplateEngine) Compile(src string) (*Template, error) {
	if tpl, ok := e.templates.Get(src); ok {
		return tpl, nil
	}
	tpl, err := e.parse(src)
	if err != nil {
		return nil, err
	}
	e.templates.Add(src, tpl)
	return tpl, nil
}

func (e *TemplateEngine) parse(src string) (*Template, error) {
	tpl := &Template{src: src}
	i := 0
	for i < len(src) {
		idx := strings.Index(src[i:], "{{")
		if idx == -1 {
			tpl.parts = append(tpl.parts, part{kind: partText, text: src[i:]})
			break
		}
		if idx > 0 {
			tpl.parts = append(tpl.parts, part{kind: partText, text: src[i : i+idx]})
		}
		start := i + idx

		open, closing := "{{", "}}"
		if strings.HasPrefix(src[start:], "{{{") {
			open, closing = "{{{", "}}}"
		}
		end := strings.Index(src[start+len(open):], closing)
		if end == -1 {
			return nil, templateError(src, "unclosed "+open+" tag")
		}
		body := strings.TrimSpace(src[start+len(open) : start+len(open)+end])
		i = start + len(open) + end + len(closing)

		p, skip, err := e.parseTag(src, body, open == "{{{")
		if err != nil {
			return nil, err
		}
		if !skip {
			tpl.parts = append(tpl.parts, p)
		}
	}
	return tpl, nil
}

func (e *TemplateEngine) parseTag(src, body string, triple bool) (part, bool, error) {
	if body == "" {
		return part{}, false, templateError(src, "empty tag")
	}
	if !triple {
		switch body[0] {
		case '!':
			return part{}, true, nil
		case '#', '/', '^', '>', '&', '=':
			return part{}, false, templateError(src, "unsupported tag {{"+body+"}}")
		}
	}

	kind := partValue
	path := body
	if rest, found := strings.CutPrefix(body, "json "); found && !triple {
		kind = partJSON
		path = strings.TrimSpace(rest)
	}

	segs, err := parsePath(path)
	if err != nil {
		return part{}, false, err
	}
	code, err := e.paths.compile(jqQuery(segs))
	if err != nil {
		return part{}, false, templateError(src, "cannot compile path "+strconv.Quote(path)).WithCause(err)
	}
	return part{kind: kind, path: path, code: code}, false, nil
}

// Source returns the template text.
func (t *Template) Source() string { return t.src }

// Render substitutes values from data. A lookup that fails because the
// value has the wrong shape counts as missing.
func (t *Template) Render(data map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(t.src))
	for _, p := range t.parts {
		if p.kind == partText {
			b.WriteString(p.text)
			continue
		}
		val, ok := lookup(p.code, data)
		if !ok {
			continue
		}
		if val == nil {
			if p.kind == partJSON {
				b.WriteString("null")
			}
			continue
		}
		s, err := format(val, p.kind == partJSON)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeTemplate, "cannot render %q: %s", p.path, err.Error()).WithCause(err)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func lookup(code *gojq.Code, data map[string]any) (any, bool) {
	var input any = data
	if data == nil {
		input = map[string]any{}
	}
	iter := code.Run(input)
	val, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := val.(error); isErr {
		return nil, false
	}
	return val, true
}

func format(val any, asJSON bool) (string, error) {
	if asJSON {
		b, err := json.MarshalIndent(val, "", "  ")
		return string(b), err
	}
	switch v := val.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		b, err := json.Marshal(v)
		return string(b), err
	}
}

func templateError(src, msg string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeTemplate, "template: %s", msg).
		WithDetails(map[string]any{"template": src})
}
