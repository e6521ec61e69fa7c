package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ferrosa-tutor/prompts"
	"ferrosa-tutor/work-flows/models"
)

var (
	tabMemCache   = make(map[string]*TabSet)
	tabMemCacheMu sync.Mutex
)

// TabSet is the ordered collection of tab tables the app serves.
type TabSet struct {
	tabs []*models.TabSpec
	byID map[string]*models.TabSpec
}

func NewTabSet(tabs ...*models.TabSpec) (*TabSet, error) {
	ts := &TabSet{byID: make(map[string]*models.TabSpec, len(tabs))}
	for _, tab := range tabs {
		if _, dup := ts.byID[tab.ID]; dup {
			return nil, fmt.Errorf("duplicate tab id %q", tab.ID)
		}
		ts.byID[tab.ID] = tab
		ts.tabs = append(ts.tabs, tab)
	}
	sort.SliceStable(ts.tabs, func(i, j int) bool {
		if ts.tabs[i].Order != ts.tabs[j].Order {
			return ts.tabs[i].Order < ts.tabs[j].Order
		}
		return ts.tabs[i].ID < ts.tabs[j].ID
	})
	return ts, nil
}

func (ts *TabSet) Get(id string) (*models.TabSpec, error) {
	tab, ok := ts.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTabNotFound, id)
	}
	return tab, nil
}

func (ts *TabSet) All() []*models.TabSpec {
	out := make([]*models.TabSpec, len(ts.tabs))
	copy(out, ts.tabs)
	return out
}

func (ts *TabSet) IDs() []string {
	ids := make([]string, 0, len(ts.tabs))
	for _, tab := range ts.tabs {
		ids = append(ids, tab.ID)
	}
	return ids
}

// LoadTabConfig loads every tabs/*.yaml table. An empty dir means the tables
// embedded in the binary; otherwise dir replaces them.
func LoadTabConfig(dir string) (*TabSet, error) {
	tabMemCacheMu.Lock()
	defer tabMemCacheMu.Unlock()

	if cached, ok := tabMemCache[dir]; ok {
		return cached, nil
	}

	var fsys fs.FS = prompts.FS
	pattern := "tabs/*.yaml"
	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("tabs directory not found: %s", dir)
		}
		fsys = os.DirFS(dir)
		pattern = "*.yaml"
	}

	tabs, err := LoadTabs(fsys, pattern)
	if err != nil {
		return nil, err
	}
	tabMemCache[dir] = tabs
	return tabs, nil
}

// LoadTabs parses and validates every file matching pattern in fsys.
func LoadTabs(fsys fs.FS, pattern string) (*TabSet, error) {
	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list tab files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no tab files match %s", pattern)
	}
	sort.Strings(files)

	tabs := make([]*models.TabSpec, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read tab file %s: %w", file, err)
		}
		tab, err := ParseTab(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(file), err)
		}
		tabs = append(tabs, tab)
	}

	return NewTabSet(tabs...)
}

// ParseTab decodes one YAML table, fills defaults and validates it.
func ParseTab(data []byte) (*models.TabSpec, error) {
	var tab models.TabSpec
	if err := yaml.Unmarshal(data, &tab); err != nil {
		return nil, fmt.Errorf("failed to parse YAML tab config: %w", err)
	}

	if tab.Kind == "" {
		tab.Kind = models.TabKindScripted
		if len(tab.Stages) == 0 {
			tab.Kind = models.TabKindChat
		}
	}
	tab.Persona = strings.TrimSpace(tab.Persona)
	tab.ChatPersona = strings.TrimSpace(tab.ChatPersona)

	if err := ValidateTab(&tab); err != nil {
		return nil, err
	}
	return &tab, nil
}

func ValidateTab(tab *models.TabSpec) error {
	var errs []error
	if tab.ID == "" {
		errs = append(errs, errors.New("id cannot be empty"))
	}
	if tab.Label == "" {
		errs = append(errs, errors.New("label cannot be empty"))
	}
	if tab.Persona == "" {
		errs = append(errs, errors.New("persona cannot be empty"))
	}

	switch tab.Kind {
	case models.TabKindScripted, models.TabKindChat:
		errs = append(errs, validateStages(tab.Stages)...)
	case models.TabKindDrafting:
		errs = append(errs, validateDrafting(tab.Drafting)...)
	case models.TabKindCitations:
		if tab.Citations == nil || !strings.Contains(tab.Citations.PromptTemplate, "{query}") {
			errs = append(errs, errors.New("citations.prompt_template must contain {query}"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tab kind %q", tab.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("tab %q: %w", tab.ID, errors.Join(errs...))
	}
	return nil
}

func validateStages(stages []models.Stage) []error {
	var errs []error
	for i := range stages {
		stage := &stages[i]
		at := fmt.Sprintf("stage %d", i)

		if stage.Next != 0 && (stage.Next <= i || stage.Next > len(stages)) {
			errs = append(errs, fmt.Errorf("%s: next %d must be in (%d, %d]", at, stage.Next, i, len(stages)))
		}
		if stage.MaxRetries != nil && *stage.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s: max_retries cannot be negative", at))
		}

		switch stage.Kind {
		case models.StageKindEmit:
			if len(stage.Messages) == 0 {
				errs = append(errs, fmt.Errorf("%s: emit stage needs messages", at))
			}
		case models.StageKindFixedChoice:
			errs = append(errs, validateQuestion(at, stage.Question)...)
		case models.StageKindFreeText:
			if stage.Rubric == "" && stage.CaptureAs == "" {
				errs = append(errs, fmt.Errorf("%s: free_text stage needs a rubric or capture_as", at))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown stage kind %q", at, stage.Kind))
		}
	}
	return errs
}

func validateQuestion(at string, q *models.Question) []error {
	if q == nil {
		return []error{fmt.Errorf("%s: fixed_choice stage needs a question", at)}
	}
	var errs []error
	found := false
	for _, opt := range q.Options {
		if opt.Key == q.Correct {
			found = true
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("%s: correct key %q is not an option", at, q.Correct))
	}
	return errs
}

func validateDrafting(d *models.DraftingSpec) []error {
	if d == nil {
		return []error{errors.New("drafting tab needs a drafting section")}
	}
	var errs []error
	if d.DocumentLabel == "" {
		errs = append(errs, errors.New("drafting.document_label cannot be empty"))
	}
	if d.Template == "" {
		errs = append(errs, errors.New("drafting.template cannot be empty"))
	}
	for _, f := range d.Fields {
		if !strings.Contains(d.Template, "{"+f.Name+"}") {
			errs = append(errs, fmt.Errorf("drafting.template does not use field %q", f.Name))
		}
	}
	return errs
}

func ClearTabCache() {
	tabMemCacheMu.Lock()
	defer tabMemCacheMu.Unlock()
	tabMemCache = make(map[string]*TabSet)
}
