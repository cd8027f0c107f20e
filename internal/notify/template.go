package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is a parsed notification body/subject template. It supports
// `{{ path.to.field }}` interpolation, `{% for x in seq %}...{% endfor %}`
// iteration, the filters round(n)/upper/lower, and the global function
// env('NAME'). No ecosystem templating library matches this exact
// {{ }}/{% %} syntax, so this is the one hand-rolled piece of the
// notification stack.
type Template struct {
	nodes []node
}

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeExpr
	nodeFor
)

type exprSource struct {
	isEnv  bool
	envVar string
	path   []string
}

type filter struct {
	name string
	arg  string
}

type node struct {
	kind    nodeKind
	text    string
	source  exprSource
	filters []filter
	forVar  string
	forSeq  exprSource
	body    []node
}

type rawToken struct {
	kind    string // "text", "expr", "tag"
	content string
}

// ParseTemplate parses and validates src, returning an error for
// malformed expressions or unbalanced for/endfor tags. Parsing does not
// evaluate anything, so env() lookups and missing context fields are not
// checked here.
func ParseTemplate(src string) (*Template, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	pos := 0
	nodes, err := parseNodes(tokens, &pos)
	if err != nil {
		return nil, err
	}
	if pos != len(tokens) {
		return nil, fmt.Errorf("unexpected %q without matching for", tokens[pos].content)
	}
	return &Template{nodes: nodes}, nil
}

func tokenize(src string) ([]rawToken, error) {
	var tokens []rawToken
	i := 0
	for i < len(src) {
		exprStart := strings.Index(src[i:], "{{")
		tagStart := strings.Index(src[i:], "{%")

		next := -1
		isExpr := false
		switch {
		case exprStart == -1 && tagStart == -1:
			tokens = append(tokens, rawToken{kind: "text", content: src[i:]})
			return tokens, nil
		case exprStart == -1:
			next, isExpr = tagStart, false
		case tagStart == -1:
			next, isExpr = exprStart, true
		case exprStart < tagStart:
			next, isExpr = exprStart, true
		default:
			next, isExpr = tagStart, false
		}

		if next > 0 {
			tokens = append(tokens, rawToken{kind: "text", content: src[i : i+next]})
		}

		open := "{{"
		closeTag := "}}"
		kind := "expr"
		if !isExpr {
			open, closeTag, kind = "{%", "%}", "tag"
		}

		rest := src[i+next+len(open):]
		end := strings.Index(rest, closeTag)
		if end == -1 {
			return nil, fmt.Errorf("unterminated %q", open)
		}
		tokens = append(tokens, rawToken{kind: kind, content: strings.TrimSpace(rest[:end])})
		i = i + next + len(open) + end + len(closeTag)
	}
	return tokens, nil
}

func parseNodes(tokens []rawToken, pos *int) ([]node, error) {
	var nodes []node
	for *pos < len(tokens) {
		tok := tokens[*pos]
		switch tok.kind {
		case "text":
			nodes = append(nodes, node{kind: nodeText, text: tok.content})
			*pos++
		case "expr":
			src, filters, err := parseExpr(tok.content)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node{kind: nodeExpr, source: src, filters: filters})
			*pos++
		case "tag":
			if tok.content == "endfor" {
				return nodes, nil
			}
			if !strings.HasPrefix(tok.content, "for ") {
				return nil, fmt.Errorf("unknown tag %q", tok.content)
			}
			*pos++
			varName, seq, err := parseForHeader(tok.content)
			if err != nil {
				return nil, err
			}
			body, err := parseNodes(tokens, pos)
			if err != nil {
				return nil, err
			}
			if *pos >= len(tokens) || tokens[*pos].kind != "tag" || tokens[*pos].content != "endfor" {
				return nil, fmt.Errorf("missing endfor for loop over %q", tok.content)
			}
			*pos++
			nodes = append(nodes, node{kind: nodeFor, forVar: varName, forSeq: seq, body: body})
		default:
			return nil, fmt.Errorf("unknown token kind %q", tok.kind)
		}
	}
	return nodes, nil
}

func parseForHeader(content string) (string, exprSource, error) {
	fields := strings.Fields(content)
	if len(fields) != 4 || fields[0] != "for" || fields[2] != "in" {
		return "", exprSource{}, fmt.Errorf("malformed for tag %q, expected \"for x in seq\"", content)
	}
	return fields[1], parsePath(fields[3]), nil
}

func parseExpr(content string) (exprSource, []filter, error) {
	parts := strings.Split(content, "|")
	head := strings.TrimSpace(parts[0])
	if head == "" {
		return exprSource{}, nil, fmt.Errorf("empty expression")
	}

	var src exprSource
	if strings.HasPrefix(head, "env(") {
		arg, err := parseCallArg(head, "env")
		if err != nil {
			return exprSource{}, nil, err
		}
		src = exprSource{isEnv: true, envVar: arg}
	} else {
		src = parsePath(head)
	}

	var filters []filter
	for _, raw := range parts[1:] {
		f, err := parseFilter(strings.TrimSpace(raw))
		if err != nil {
			return exprSource{}, nil, err
		}
		filters = append(filters, f)
	}
	return src, filters, nil
}

func parsePath(s string) exprSource {
	return exprSource{path: strings.Split(s, ".")}
}

func parseCallArg(s, funcName string) (string, error) {
	prefix := funcName + "("
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ")") {
		return "", fmt.Errorf("malformed call %q", s)
	}
	arg := strings.TrimSpace(s[len(prefix) : len(s)-1])
	arg = strings.Trim(arg, `'"`)
	return arg, nil
}

func parseFilter(s string) (filter, error) {
	if s == "" {
		return filter{}, fmt.Errorf("empty filter")
	}
	idx := strings.Index(s, "(")
	if idx == -1 {
		return filter{name: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return filter{}, fmt.Errorf("malformed filter %q", s)
	}
	name := s[:idx]
	arg := strings.Trim(s[idx+1:len(s)-1], `'" `)
	return filter{name: name, arg: arg}, nil
}

// Render evaluates the template against ctx, resolving env() calls
// through envLookup at render time.
func (t *Template) Render(ctx Context, envLookup func(string) (string, bool)) (string, error) {
	data := ctx.toMap()
	var sb strings.Builder
	if err := renderNodes(t.nodes, data, envLookup, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func renderNodes(nodes []node, data map[string]any, envLookup func(string) (string, bool), sb *strings.Builder) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			sb.WriteString(n.text)
		case nodeExpr:
			value, err := resolveExpr(n.source, data, envLookup)
			if err != nil {
				return err
			}
			rendered, err := applyFilters(value, n.filters)
			if err != nil {
				return err
			}
			sb.WriteString(rendered)
		case nodeFor:
			seq, err := resolveSeq(n.forSeq, data)
			if err != nil {
				return err
			}
			for _, item := range seq {
				scoped := make(map[string]any, len(data)+1)
				for k, v := range data {
					scoped[k] = v
				}
				scoped[n.forVar] = item
				if err := renderNodes(n.body, scoped, envLookup, sb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func resolveExpr(src exprSource, data map[string]any, envLookup func(string) (string, bool)) (any, error) {
	if src.isEnv {
		if envLookup == nil {
			return "", nil
		}
		value, ok := envLookup(src.envVar)
		if !ok {
			return "", nil
		}
		return value, nil
	}
	return resolvePath(data, src.path), nil
}

func resolveSeq(src exprSource, data map[string]any) ([]any, error) {
	value := resolvePath(data, src.path)
	seq, ok := value.([]any)
	if !ok {
		return nil, nil
	}
	return seq, nil
}

func resolvePath(data map[string]any, path []string) any {
	var current any = data
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func applyFilters(value any, filters []filter) (string, error) {
	for _, f := range filters {
		switch f.name {
		case "round":
			n, err := strconv.Atoi(f.arg)
			if err != nil {
				return "", fmt.Errorf("round filter expects an integer arg, got %q", f.arg)
			}
			num, ok := toFloat(value)
			if !ok {
				return "", fmt.Errorf("round filter applied to non-numeric value %v", value)
			}
			value = strconv.FormatFloat(num, 'f', n, 64)
		case "upper":
			value = strings.ToUpper(stringify(value))
		case "lower":
			value = strings.ToLower(stringify(value))
		default:
			return "", fmt.Errorf("unknown filter %q", f.name)
		}
	}
	return stringify(value), nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}
