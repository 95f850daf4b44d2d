package render

import (
	"strings"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Template part names, used in error messages.
const (
	FieldSubject = "subject"
	FieldHTML    = "html_body"
	FieldText    = "text_body"
)

// RenderedMessage is a template with every placeholder substituted.
type RenderedMessage struct {
	Subject string
	HTML    string
	Text    string
}

// Options tune rendering. The zero value is the default policy.
type Options struct {
	// RequireNonEmpty treats a present-but-blank value as missing.
	RequireNonEmpty bool
}

// Render substitutes every {name} in tpl with vars[name]. It is a pure
// function: identical inputs always produce identical output.
func Render(tpl domain.Template, vars map[string]string) (*RenderedMessage, error) {
	return RenderWithOptions(tpl, vars, Options{})
}

// RenderWithOptions is Render with an explicit policy.
func RenderWithOptions(tpl domain.Template, vars map[string]string, opts Options) (*RenderedMessage, error) {
	if tpl.IsEmpty() {
		return nil, ErrEmptyTemplate
	}
	if len(vars) == 0 {
		return nil, ErrNoVariables
	}

	lookup := func(name string) (string, bool) {
		v, ok := vars[name]
		if ok && opts.RequireNonEmpty && strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, ok
	}

	out := &RenderedMessage{}
	var err error
	if out.Subject, err = expand(FieldSubject, tpl.Subject, lookup); err != nil {
		return nil, err
	}
	if out.HTML, err = expand(FieldHTML, tpl.HTMLBody, lookup); err != nil {
		return nil, err
	}
	if out.Text, err = expand(FieldText, tpl.TextBody, lookup); err != nil {
		return nil, err
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in tpl, in the order
// they first appear (subject, then HTML body, then text body).
func Placeholders(tpl domain.Template) []string {
	seen := make(map[string]bool)
	var names []string
	collect := func(name string) (string, bool) {
		name = strings.TrimSpace(name)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return "", true
	}
	for _, part := range []struct{ field, text string }{
		{FieldSubject, tpl.Subject},
		{FieldHTML, tpl.HTMLBody},
		{FieldText, tpl.TextBody},
	} {
		_, _ = expand(part.field, part.text, collect)
	}
	return names
}

// expand walks text once. "{{" and "}}" are literal braces. Any other
// "{...}" is a placeholder: its content is looked up as written, then with
// surrounding spaces trimmed, and a miss is a MissingVariableError. Only
// content that cannot be a column reference (CSS rules, JSON, blank) and an
// unmatched "{" are copied through.
func expand(field, text string, lookup func(string) (string, bool)) (string, error) {
	if !strings.ContainsAny(text, "{}") {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				b.WriteString(text[i:])
				return b.String(), nil
			}
			content := text[i+1 : i+1+end]
			if strings.IndexByte(content, '{') >= 0 {
				// "{a {b}": the inner brace opens the placeholder.
				b.WriteByte('{')
				i++
				continue
			}
			if isCode(content) {
				b.WriteString(text[i : i+2+end])
				i += end + 2
				continue
			}
			v, ok := lookup(content)
			if !ok {
				if name := strings.TrimSpace(content); name != content {
					v, ok = lookup(name)
				}
			}
			if !ok {
				return "", &MissingVariableError{Name: strings.TrimSpace(content), Field: field}
			}
			b.WriteString(v)
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// isCode reports brace content that is markup rather than a column
// reference: blank, or containing declaration and string punctuation.
func isCode(s string) bool {
	return strings.TrimSpace(s) == "" || strings.ContainsAny(s, ":;\"\n\r\t")
}
