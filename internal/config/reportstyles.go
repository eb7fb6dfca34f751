package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ReportStylePreset seeds the planning-depth fields of a task's
// workflow.Config when the caller names a report_style but leaves
// them unset, the way the teacher's own strategy presets
// (react_max_iterations and friends) seed defaults from a named
// strategy rather than requiring every caller to spell out every knob.
type ReportStylePreset struct {
	MaxPlanIterations int `yaml:"max_plan_iterations"`
	MaxStepNum        int `yaml:"max_step_num"`
	MaxSearchResults  int `yaml:"max_search_results"`
}

//go:embed report_styles.yaml
var defaultReportStylesYAML []byte

// ReportStyles is a name -> preset table, keyed by the report_style
// value a client may pass in a task-creation request (spec §6.3).
type ReportStyles map[string]ReportStylePreset

// LoadReportStyles parses the built-in preset table. A future version
// could merge in an operator-supplied override file the same way Load
// merges a YAML config file over defaults, but nothing in this service
// currently needs per-deployment presets.
func LoadReportStyles() (ReportStyles, error) {
	var styles ReportStyles
	if err := yaml.Unmarshal(defaultReportStylesYAML, &styles); err != nil {
		return nil, fmt.Errorf("config: parsing report styles: %w", err)
	}
	return styles, nil
}

// Resolve looks up style, returning ok=false for an unrecognized or
// empty name (callers should leave the caller's own fields untouched
// in that case).
func (s ReportStyles) Resolve(style string) (ReportStylePreset, bool) {
	p, ok := s[style]
	return p, ok
}
