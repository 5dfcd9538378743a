package util

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"default": func(def any, val any) any {
		if val == nil || val == "" {
			return def
		}

		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []any) string {
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = fmt.Sprint(item)
		}

		return strings.Join(out, sep)
	},
}

// RenderTemplate renders text/template markup against state. Text without
// "{{" is returned unchanged.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("instruction").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var placeholderRE = regexp.MustCompile(`\{+[^{}]*\}+`)

// ArtifactLoader resolves {artifact.name} placeholders.
type ArtifactLoader func(name string) (string, error)

// InjectState replaces single brace placeholders such as {topic},
// {user:name} or {artifact.notes.txt} with session values. A trailing "?"
// makes the placeholder optional. Double braced text and names that are not
// valid state keys are left untouched.
func InjectState(text string, state map[string]any, loadArtifact ArtifactLoader) (string, error) {
	var firstErr error

	out := placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil || strings.HasPrefix(m, "{{") {
			return m
		}

		name := strings.TrimSpace(strings.Trim(m, "{}"))
		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")

		if file, ok := strings.CutPrefix(name, "artifact."); ok {
			if loadArtifact == nil {
				firstErr = fmt.Errorf("artifact %q: no artifact loader", file)
				return m
			}

			s, err := loadArtifact(file)
			if err != nil {
				if optional {
					return ""
				}

				firstErr = fmt.Errorf("artifact %q: %w", file, err)

				return m
			}

			return s
		}

		if !IsValidStateName(name) {
			return m
		}

		v, ok := state[name]
		if !ok {
			if optional {
				return ""
			}

			firstErr = fmt.Errorf("context variable not found: %q", name)

			return m
		}

		return fmt.Sprint(v)
	})

	return out, firstErr
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidStateName reports whether name is an identifier, optionally
// prefixed with app:, user: or temp:.
func IsValidStateName(name string) bool {
	parts := strings.Split(name, ":")
	switch len(parts) {
	case 1:
		return identRE.MatchString(parts[0])
	case 2:
		switch parts[0] {
		case "app", "user", "temp":
			return identRE.MatchString(parts[1])
		}
	}

	return false
}
