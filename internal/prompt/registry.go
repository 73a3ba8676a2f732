// Package prompt keeps versioned prompt templates and gates promotion on
// canonical regression cases.
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/hyperjump/kakunin/internal/models"
	"go.uber.org/zap"
)

type version struct {
	ref      models.PromptRef
	meta     models.PromptVersion // guarded by Registry.mu
	tmpl     *template.Template
	required []string
}

func newVersion(meta models.PromptVersion, t *template.Template) *version {
	return &version{ref: meta.Ref(), meta: meta, tmpl: t, required: requiredFields(t.Tree)}
}

type entry struct {
	versions []*version
	active   *version
	cases    []CanonicalCase
}

// Registry serves templates from memory and writes every version change
// through to a VersionStore when one is set. Renders take a read lock;
// registrations and promotions are serialised and swap the active version
// under the write lock.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*entry

	writeMu sync.Mutex
	store   VersionStore
	runner  Runner
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRunner sets the runner used by Promote. Without one, canonical cases are
// checked against the rendered prompt itself.
func WithRunner(r Runner) Option {
	return func(reg *Registry) { reg.runner = r }
}

// WithStore persists versions, status changes and promotion times in s.
func WithStore(s VersionStore) Option {
	return func(reg *Registry) { reg.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(reg *Registry) { reg.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		templates: make(map[string]*entry),
		runner:    echoRunner{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func parseBody(templateID, body string) (*template.Template, error) {
	t, err := template.New(templateID).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: template %s: %v", models.ErrInvalidInput, templateID, err)
	}
	return t, nil
}

// entryLocked returns the entry of templateID, creating it. Callers hold r.mu.
func (r *Registry) entryLocked(templateID string) *entry {
	e := r.templates[templateID]
	if e == nil {
		e = &entry{}
		r.templates[templateID] = e
	}
	return e
}

func (r *Registry) persist(ctx context.Context, versions ...models.PromptVersion) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SavePromptVersions(ctx, versions...); err != nil {
		return fmt.Errorf("failed to persist prompt versions: %w", err)
	}
	return nil
}

// Load restores every stored version, including which one is active. Call it
// before Seed so stored templates keep their history.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.ListPromptVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load prompt versions: %w", err)
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].TemplateID != stored[j].TemplateID {
			return stored[i].TemplateID < stored[j].TemplateID
		}
		return stored[i].Version < stored[j].Version
	})

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, meta := range stored {
		e := r.entryLocked(meta.TemplateID)
		if meta.Version != len(e.versions)+1 {
			return fmt.Errorf("%w: stored prompt %s is out of sequence", models.ErrInvalidConfig, meta.Ref())
		}
		t, err := parseBody(meta.TemplateID, meta.Body)
		if err != nil {
			return err
		}
		v := newVersion(meta, t)
		e.versions = append(e.versions, v)
		if meta.Status == models.PromptActive {
			e.active = v
		}
	}
	if len(stored) > 0 {
		r.logger.Info("prompt versions loaded", zap.Int("versions", len(stored)))
	}
	return nil
}

// Register adds body as the next draft version of templateID. Version numbers
// are never reused.
func (r *Registry) Register(ctx context.Context, templateID, body string) (models.PromptVersion, error) {
	if templateID == "" {
		return models.PromptVersion{}, fmt.Errorf("%w: template id is required", models.ErrInvalidInput)
	}
	t, err := parseBody(templateID, body)
	if err != nil {
		return models.PromptVersion{}, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	next := 1
	if e := r.templates[templateID]; e != nil {
		next = len(e.versions) + 1
	}
	r.mu.RUnlock()

	meta := models.PromptVersion{
		TemplateID: templateID,
		Version:    next,
		Body:       body,
		Status:     models.PromptDraft,
		CreatedAt:  r.now(),
	}
	if err := r.persist(ctx, meta); err != nil {
		return models.PromptVersion{}, err
	}
	r.mu.Lock()
	e := r.entryLocked(templateID)
	e.versions = append(e.versions, newVersion(meta, t))
	r.mu.Unlock()
	r.logger.Info("prompt version registered", zap.String("template_id", templateID), zap.Int("version", meta.Version))
	return meta, nil
}

// SetCases replaces the canonical cases of templateID.
func (r *Registry) SetCases(templateID string, cases []CanonicalCase) error {
	for _, c := range cases {
		for _, exp := range c.Expect {
			if err := exp.Validate(); err != nil {
				return fmt.Errorf("case %s: %w", c.ID, err)
			}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(templateID).cases = append([]CanonicalCase(nil), cases...)
	return nil
}

// Render executes the active version of templateID with vars. A missing
// placeholder fails with MissingVariableError and no text is returned.
func (r *Registry) Render(templateID string, vars map[string]interface{}) (string, models.PromptRef, error) {
	r.mu.RLock()
	e := r.templates[templateID]
	var active *version
	if e != nil {
		active = e.active
	}
	r.mu.RUnlock()
	if active == nil {
		return "", models.PromptRef{}, fmt.Errorf("%w: %s", models.ErrUnknownTemplate, templateID)
	}
	text, err := execute(active, vars)
	if err != nil {
		return "", models.PromptRef{}, err
	}
	return text, active.ref, nil
}

// execute renders one version. Bodies are immutable once registered, so this
// runs without holding the registry lock.
func execute(v *version, vars map[string]interface{}) (string, error) {
	var missing []string
	for _, name := range v.required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &models.MissingVariableError{TemplateID: v.ref.TemplateID, Names: missing}
	}
	var buf bytes.Buffer
	if err := v.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("%w: template %s: %v", models.ErrMissingVariable, v.ref.TemplateID, err)
	}
	return buf.String(), nil
}

// Promote regression-tests version against the canonical cases and, if every
// case passes, makes it active and retires the previous active version. On any
// failure the active version is unchanged.
func (r *Registry) Promote(ctx context.Context, templateID string, versionNum int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	e := r.templates[templateID]
	var candidate *version
	var cases []CanonicalCase
	if e != nil {
		if versionNum >= 1 && versionNum <= len(e.versions) {
			candidate = e.versions[versionNum-1]
		}
		cases = append(cases, e.cases...)
	}
	alreadyActive := e != nil && e.active == candidate
	r.mu.RUnlock()

	if candidate == nil {
		return fmt.Errorf("%w: %s v%d", models.ErrNotFound, templateID, versionNum)
	}
	if alreadyActive {
		return nil
	}

	if failed := r.runCases(ctx, candidate, cases); len(failed) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.logger.Warn("prompt promotion blocked",
			zap.String("template_id", templateID),
			zap.Int("version", versionNum),
			zap.Strings("failed_cases", failed))
		return &models.RegressionError{TemplateID: templateID, Version: versionNum, FailedCases: failed}
	}

	if err := r.activate(ctx, e, candidate); err != nil {
		return err
	}
	r.logger.Info("prompt version promoted", zap.String("template_id", templateID), zap.Int("version", versionNum))
	return nil
}

// activate makes v the active version of e and retires the previous one. The
// change is persisted before it becomes visible. Callers hold r.writeMu.
func (r *Registry) activate(ctx context.Context, e *entry, v *version) error {
	now := r.now()
	r.mu.RLock()
	prev := e.active
	var retired *models.PromptVersion
	if prev != nil && prev != v {
		m := prev.meta
		m.Status = models.PromptRetired
		m.RetiredAt = &now
		retired = &m
	}
	next := v.meta
	r.mu.RUnlock()
	next.Status = models.PromptActive
	next.PromotedAt = &now
	next.RetiredAt = nil

	changes := []models.PromptVersion{next}
	if retired != nil {
		changes = append([]models.PromptVersion{*retired}, next)
	}
	if err := r.persist(ctx, changes...); err != nil {
		return err
	}

	r.mu.Lock()
	if retired != nil {
		prev.meta = *retired
	}
	v.meta = next
	e.active = v
	r.mu.Unlock()
	return nil
}

func (r *Registry) runCases(ctx context.Context, candidate *version, cases []CanonicalCase) []string {
	var failed []string
	for _, c := range cases {
		if !r.passes(ctx, candidate, c) {
			failed = append(failed, c.ID)
		}
	}
	return failed
}

func (r *Registry) passes(ctx context.Context, candidate *version, c CanonicalCase) bool {
	rendered, err := execute(candidate, c.Variables)
	if err != nil {
		r.logger.Debug("canonical case render failed", zap.String("case_id", c.ID), zap.Error(err))
		return false
	}
	output, err := r.runner.Run(ctx, rendered)
	if err != nil {
		r.logger.Debug("canonical case run failed", zap.String("case_id", c.ID), zap.Error(err))
		return false
	}
	for _, exp := range c.Expect {
		if !exp.Check(output) {
			return false
		}
	}
	return true
}

// Active returns the active version of templateID.
func (r *Registry) Active(templateID string) (models.PromptVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.templates[templateID]
	if e == nil || e.active == nil {
		return models.PromptVersion{}, fmt.Errorf("%w: %s", models.ErrUnknownTemplate, templateID)
	}
	return e.active.meta, nil
}

// Versions returns every version of templateID, oldest first.
func (r *Registry) Versions(templateID string) ([]models.PromptVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.templates[templateID]
	if e == nil || len(e.versions) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownTemplate, templateID)
	}
	out := make([]models.PromptVersion, len(e.versions))
	for i, v := range e.versions {
		out[i] = v.meta
	}
	return out, nil
}

// Templates returns the ids of all templates, sorted.
func (r *Registry) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.templates))
	for id, e := range r.templates {
		if len(e.versions) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ActiveRefs returns the active version of every template that has one.
func (r *Registry) ActiveRefs() []models.PromptRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.PromptRef
	for _, e := range r.templates {
		if e.active != nil {
			out = append(out, e.active.meta.Ref())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out
}
