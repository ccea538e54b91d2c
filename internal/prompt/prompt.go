// Package prompt holds the prompt templates and the placeholder renderer that fills them.
package prompt

import (
	"github.com/valyala/fasttemplate"

	"github.com/raphaelgruber/tempest/internal/models"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Bindings maps placeholder names to their values.
type Bindings map[string]string

// Render replaces every {{name}} in tmpl with its binding.
// Placeholders without a binding are left untouched.
func Render(tmpl string, b Bindings) string {
	values := make(map[string]any, len(b))
	for k, v := range b {
		values[k] = v
	}
	return fasttemplate.ExecuteStringStd(tmpl, startTag, endTag, values)
}

// PersonalityBindings returns the name, pronoun and source bindings for p.
func PersonalityBindings(p models.Personality) Bindings {
	p = p.WithDefaults()
	subject, object, possessive := p.Pronouns()
	return Bindings{
		"name":       p.Name,
		"source":     p.SourceMaterial,
		"subject":    subject,
		"object":     object,
		"possessive": possessive,
	}
}

// Merge returns a copy of b with extra laid over it.
func (b Bindings) Merge(extra Bindings) Bindings {
	out := make(Bindings, len(b)+len(extra))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
