package recorder

import (
	"fmt"
	"path"
	"strings"

	labrecerrors "github.com/c360/labrecorder/errors"
)

// ResolveFilename parses a set_filename spec into a concrete path.
//
// A spec is either a plain path, or a whitespace-separated sequence of
// brace tokens "{key:value}". "root" and "template" are structural: the
// template's own "{var}" placeholders are substituted from the remaining
// tokens, then joined as root + "/" + expandedTemplate. A spec with no
// brace tokens at all is returned verbatim as a plain path.
func ResolveFilename(spec string) (string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", labrecerrors.WrapBadRequest(fmt.Errorf("empty filename spec"), "recorder", "ResolveFilename")
	}
	if !strings.HasPrefix(spec, "{") {
		return spec, nil
	}

	tokens, err := splitTopLevelTokens(spec)
	if err != nil {
		return "", labrecerrors.WrapBadRequest(err, "recorder", "ResolveFilename")
	}

	vars := make(map[string]string)
	for _, tok := range tokens {
		key, value, err := parseToken(tok)
		if err != nil {
			return "", labrecerrors.WrapBadRequest(err, "recorder", "ResolveFilename")
		}
		vars[key] = value
	}

	template, hasTemplate := vars["template"]
	if !hasTemplate {
		return "", labrecerrors.WrapBadRequest(fmt.Errorf("filename spec has no {template:...} token"), "recorder", "ResolveFilename")
	}

	expanded, err := expandTemplate(template, vars)
	if err != nil {
		return "", labrecerrors.WrapBadRequest(err, "recorder", "ResolveFilename")
	}

	root, hasRoot := vars["root"]
	if !hasRoot || root == "" {
		return expanded, nil
	}
	return path.Join(root, expanded), nil
}

// splitTopLevelTokens splits spec on whitespace at brace-depth 0, so that
// nested "{var}" placeholders inside a token's value survive intact.
func splitTopLevelTokens(spec string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	depth := 0

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range spec {
		switch r {
		case '{':
			depth++
			cur.WriteRune(r)
		case '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced '}' in filename spec")
			}
			cur.WriteRune(r)
			if depth == 0 {
				flush()
			}
		case ' ', '\t', '\n':
			if depth == 0 {
				flush()
				continue
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '{' in filename spec")
	}
	flush()
	return tokens, nil
}

// parseToken strips a token's outer braces and splits it into a key and a
// value on the first ':'.
func parseToken(tok string) (key, value string, err error) {
	if !strings.HasPrefix(tok, "{") || !strings.HasSuffix(tok, "}") {
		return "", "", fmt.Errorf("malformed token %q", tok)
	}
	inner := tok[1 : len(tok)-1]
	idx := strings.IndexByte(inner, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("token %q missing ':'", tok)
	}
	return inner[:idx], inner[idx+1:], nil
}

// expandTemplate replaces every "{var}" placeholder in template with
// vars[var], failing if a referenced variable was never supplied.
func expandTemplate(template string, vars map[string]string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(template) {
		if template[i] != '{' {
			out.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("unbalanced '{' in template %q", template)
		}
		name := template[i+1 : i+end]
		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("template references undefined variable %q", name)
		}
		out.WriteString(val)
		i += end + 1
	}
	return out.String(), nil
}
