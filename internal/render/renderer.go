// Package render substitutes lead fields into email templates using Liquid.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/osteele/liquid"
)

// RenderedEmail is a template after lead substitution.
type RenderedEmail struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Renderer renders templates against leads. Parsed templates are cached per
// template revision. Values are inserted as-is, without HTML escaping.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // cache key -> *liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ firstName | default: "there" }} treats whitespace-only values as missing.
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

func (r *Renderer) Render(tpl domain.EmailTemplate, lead domain.Lead) (RenderedEmail, error) {
	bindings := LeadBindings(lead)

	subject, err := r.renderField(tpl, "subject", tpl.Subject, bindings)
	if err != nil {
		return RenderedEmail{}, err
	}
	text, err := r.renderField(tpl, "text", tpl.BodyText, bindings)
	if err != nil {
		return RenderedEmail{}, err
	}
	html, err := r.renderField(tpl, "html", tpl.BodyHTML, bindings)
	if err != nil {
		return RenderedEmail{}, err
	}

	return RenderedEmail{
		Subject:  strings.TrimSpace(subject),
		BodyText: text,
		BodyHTML: html,
	}, nil
}

func (r *Renderer) renderField(tpl domain.EmailTemplate, field, source string, bindings liquid.Bindings) (string, error) {
	if source == "" {
		return "", nil
	}

	parsed, err := r.parse(tpl, field, source)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s of template %s: %w", field, tpl.ID, err)
	}

	out, renderErr := parsed.RenderString(bindings)
	if renderErr != nil {
		return "", fmt.Errorf("failed to render %s of template %s: %w", field, tpl.ID, renderErr)
	}
	return out, nil
}

func (r *Renderer) parse(tpl domain.EmailTemplate, field, source string) (*liquid.Template, error) {
	key := ""
	if tpl.ID != "" {
		key = fmt.Sprintf("%s:%s:%d", tpl.ID, field, tpl.UpdatedAt.UnixNano())
		if cached, ok := r.cache.Load(key); ok {
			return cached.(*liquid.Template), nil
		}
	}

	parsed, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	if key != "" {
		r.cache.Store(key, parsed)
	}
	return parsed, nil
}

// LeadBindings exposes lead fields to templates under camelCase names and
// their snake_case aliases.
func LeadBindings(lead domain.Lead) liquid.Bindings {
	fields := map[string]string{
		"firstName":   lead.FirstName,
		"lastName":    lead.LastName,
		"fullName":    lead.FullName(),
		"email":       lead.Email,
		"companyName": lead.CompanyName,
		"company":     lead.CompanyName,
		"jobTitle":    lead.JobTitle,
		"website":     lead.Website,
		"industry":    lead.Industry,
		"city":        lead.City,
		"country":     lead.Country,
	}

	bindings := make(liquid.Bindings, len(fields)*2)
	for name, value := range fields {
		bindings[name] = value
		if snake := toSnake(name); snake != name {
			bindings[snake] = value
		}
	}
	return bindings
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
