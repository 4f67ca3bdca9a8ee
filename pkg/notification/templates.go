package notification

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/formiq/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Template names the mail provider template used for a job type.
type Template struct {
	ID      string `yaml:"id" json:"id"`
	Subject string `yaml:"subject" json:"subject"`
}

type Templates struct {
	ByType map[string]Template `yaml:"templates" json:"templates"`
}

// LoadTemplates reads a YAML catalog. An empty path yields the built-in one.
func LoadTemplates(path string) (Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Templates{}, fmt.Errorf("reading template catalog: %w", err)
	}
	var t Templates
	if err := yaml.Unmarshal(content, &t); err != nil {
		return Templates{}, fmt.Errorf("parsing template catalog: %w", err)
	}
	if len(t.ByType) == 0 {
		return Templates{}, fmt.Errorf("template catalog %s is empty", path)
	}
	return t, nil
}

func DefaultTemplates() Templates {
	return Templates{ByType: map[string]Template{
		models.JobFormSubmission: {
			ID:      "form-submission",
			Subject: "New submission received",
		},
		models.JobSupportTicket: {
			ID:      "support-ticket",
			Subject: "New support ticket",
		},
	}}
}

// WithOverrides replaces template ids per job type; empty ids are ignored.
func (t Templates) WithOverrides(ids map[string]string) Templates {
	out := Templates{ByType: make(map[string]Template, len(t.ByType))}
	for k, v := range t.ByType {
		out.ByType[k] = v
	}
	for jobType, id := range ids {
		if id == "" {
			continue
		}
		tmpl := out.ByType[jobType]
		tmpl.ID = id
		out.ByType[jobType] = tmpl
	}
	return out
}

func (t Templates) Lookup(jobType string) (Template, bool) {
	tmpl, ok := t.ByType[jobType]
	if !ok || tmpl.ID == "" {
		return Template{}, false
	}
	return tmpl, true
}
