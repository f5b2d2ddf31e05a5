// Package template loads declarative construct templates from YAML.
// A template defines the services a construct runs, the port requests
// each service makes, and the prompt sources assembled for its agent.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is the top-level structure of a construct template document.
type Template struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Services      []Service         `yaml:"services"`
	PromptSources []PromptSource    `yaml:"prompt_sources"`
	Env           map[string]string `yaml:"env"`
}

// Service declares one supervised process and its port requests.
type Service struct {
	Name    string   `yaml:"name"`
	ID      string   `yaml:"id"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Ports   []Port   `yaml:"ports"`
}

// Port is one named port request, optionally pinned to a preferred port
// and exposed through an environment variable.
type Port struct {
	Name      string `yaml:"name"`
	Preferred int    `yaml:"preferred"`
	Env       string `yaml:"env"`
}

// PromptSource references one prompt file or glob, with an optional
// explicit assembly order.
type PromptSource struct {
	Path  string `yaml:"path"`
	Order *int   `yaml:"order"`
}

// Load reads and validates a template from the given YAML file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}

	if tpl.ID == "" {
		tpl.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return &tpl, nil
}

// LoadDir loads every .yaml template in dir, sorted by id.
func LoadDir(dir string) ([]*Template, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	templates := make([]*Template, 0, len(matches))
	for _, path := range matches {
		tpl, err := Load(path)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

// Validate checks structural requirements: a name, runnable services,
// and unique port request names across the whole template. Port request
// names must be unique because each one becomes a named allocation
// within a single provisioning run.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}

	seenPorts := make(map[string]bool)
	seenServices := make(map[string]bool)
	for _, svc := range t.Services {
		if svc.Name == "" {
			return fmt.Errorf("service with empty name")
		}
		if seenServices[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seenServices[svc.Name] = true
		if svc.Command == "" {
			return fmt.Errorf("service %q has no command", svc.Name)
		}
		for _, p := range svc.Ports {
			if p.Name == "" {
				return fmt.Errorf("service %q has a port request with no name", svc.Name)
			}
			if seenPorts[p.Name] {
				return fmt.Errorf("duplicate port request name %q", p.Name)
			}
			seenPorts[p.Name] = true
		}
	}

	for _, src := range t.PromptSources {
		if src.Path == "" {
			return fmt.Errorf("prompt source with empty path")
		}
	}
	return nil
}

// PortRequests flattens every service's port requests in declaration order.
func (t *Template) PortRequests() []Port {
	var reqs []Port
	for _, svc := range t.Services {
		reqs = append(reqs, svc.Ports...)
	}
	return reqs
}
