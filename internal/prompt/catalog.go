package prompt

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperjump/kakunin/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk form of the registry seed.
type Catalog struct {
	Templates []CatalogTemplate `yaml:"templates"`
}

// CatalogTemplate declares a template's versions and canonical cases. The
// version marked active (or the last one when none is marked) is activated
// without regression when the catalog is loaded.
type CatalogTemplate struct {
	ID       string           `yaml:"id"`
	Versions []CatalogVersion `yaml:"versions"`
	Cases    []CanonicalCase  `yaml:"cases"`
}

// CatalogVersion is one template body.
type CatalogVersion struct {
	Body   string `yaml:"body"`
	Active bool   `yaml:"active"`
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse prompt catalog: %v", models.ErrInvalidConfig, err)
	}
	return &c, nil
}

// Seed installs the canonical cases of every template in c. A template with no
// versions yet gets the catalog's versions, and the chosen one is activated;
// a template already loaded from the store keeps its stored versions.
func (r *Registry) Seed(ctx context.Context, c *Catalog) error {
	for _, t := range c.Templates {
		if len(t.Versions) == 0 {
			return fmt.Errorf("%w: template %s has no versions", models.ErrInvalidConfig, t.ID)
		}
		if err := r.SetCases(t.ID, t.Cases); err != nil {
			return err
		}

		r.mu.RLock()
		loaded := len(r.templates[t.ID].versions)
		r.mu.RUnlock()
		if loaded > 0 {
			r.logger.Debug("prompt template already stored", zap.String("template_id", t.ID), zap.Int("versions", loaded))
			continue
		}

		activeIdx := len(t.Versions) - 1
		for i, v := range t.Versions {
			if v.Active {
				activeIdx = i
			}
		}
		var activeVersion int
		for i, v := range t.Versions {
			pv, err := r.Register(ctx, t.ID, v.Body)
			if err != nil {
				return err
			}
			if i == activeIdx {
				activeVersion = pv.Version
			}
		}
		r.writeMu.Lock()
		r.mu.RLock()
		e := r.templates[t.ID]
		v := e.versions[activeVersion-1]
		r.mu.RUnlock()
		err := r.activate(ctx, e, v)
		r.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// PolicyQATemplateID is the template the analyze pipeline renders.
const PolicyQATemplateID = "policy_qa"

const policyQABody = `You are an insurance policy assistant. Answer the question using only the policy excerpts below.
If the excerpts do not answer the question, say that the policy documents provided do not cover it.
Quote amounts, percentages, and clause numbers exactly as written.
{{- if .document_id }}
Policy document: {{ .document_id }}
{{- end }}

Policy excerpts:
{{ .context }}

Question: {{ .question }}

Answer:`

// DefaultCatalog returns the built-in policy_qa template and its canonical cases.
func DefaultCatalog() *Catalog {
	return &Catalog{Templates: []CatalogTemplate{{
		ID:       PolicyQATemplateID,
		Versions: []CatalogVersion{{Body: policyQABody, Active: true}},
		Cases: []CanonicalCase{
			{
				ID: "deductible",
				Variables: map[string]interface{}{
					"question":    "What is the deductible?",
					"context":     "[1] The deductible is ₹5000 per claim.",
					"document_id": "home-2024",
				},
				Expect: []Expectation{
					{Kind: ExpectContains, Value: "₹5000"},
					{Kind: ExpectNotContains, Value: "<no value>"},
				},
			},
			{
				ID: "no_document",
				Variables: map[string]interface{}{
					"question":    "Is flood damage covered?",
					"context":     "[1] Flood damage is excluded under clause 4.2.",
					"document_id": "",
				},
				Expect: []Expectation{
					{Kind: ExpectRegex, Value: `(?i)clause 4\.2`},
					{Kind: ExpectNotContains, Value: "<no value>"},
				},
			},
		},
	}}}
}
