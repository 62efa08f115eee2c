package stages

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// JobType is the discriminator sent to the generation invoker.
type JobType string

const (
	JobImageGeneration   JobType = "image_generation"
	JobScriptGeneration  JobType = "script_generation"
	JobSpeechGeneration  JobType = "speech_generation"
	JobLipSyncGeneration JobType = "lipsync_generation"
	JobVideoGeneration   JobType = "video_generation"
)

type Completion string

const (
	// CompletionFlag stages are complete once the complete flag is set with an output.
	CompletionFlag Completion = "flag"
	// CompletionTerminalStatus stages are complete once their status reaches completed.
	CompletionTerminalStatus Completion = "terminal_status"
)

type Driver struct {
	Param   string `yaml:"param"`
	Field   string `yaml:"field"`
	Measure string `yaml:"measure"`
}

type ModeDef struct {
	Sync             bool            `yaml:"sync"`
	Required         []string        `yaml:"required"`
	FreeText         []string        `yaml:"free_text"`
	Defaults         map[string]any  `yaml:"defaults"`
	Driver           Driver          `yaml:"driver"`
	Pricing          credits.Formula `yaml:"pricing"`
	TextMetricsField string          `yaml:"text_metrics_field"`
}

type StageDef struct {
	Key            types.StageKey      `yaml:"-"`
	Label          string              `yaml:"label"`
	JobType        JobType             `yaml:"job_type"`
	Completion     Completion          `yaml:"completion"`
	OutputURLField string              `yaml:"output_url_field"`
	DefaultMode    string              `yaml:"default_mode"`
	References     map[string]string   `yaml:"references"`
	Modes          map[string]*ModeDef `yaml:"modes"`
}

type Catalog struct {
	CharsPerSecond int                          `yaml:"chars_per_second"`
	Stages         map[types.StageKey]*StageDef `yaml:"stages"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read stage catalog: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

// Default is the embedded catalog. It panics if the embedded file is broken.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse stage catalog: %w", err)
	}
	if c.CharsPerSecond <= 0 {
		c.CharsPerSecond = 15
	}
	for key, def := range c.Stages {
		if def == nil {
			return nil, fmt.Errorf("stage %q: empty definition", key)
		}
		def.Key = key
		if def.DefaultMode == "" {
			def.DefaultMode = "generate"
		}
		if def.Completion == "" {
			def.Completion = CompletionFlag
		}
		if _, ok := def.Modes[def.DefaultMode]; !ok {
			return nil, fmt.Errorf("stage %q: default mode %q not defined", key, def.DefaultMode)
		}
		for name, m := range def.Modes {
			if m == nil {
				return nil, fmt.Errorf("stage %q mode %q: empty definition", key, name)
			}
			if !m.Sync && def.JobType == "" {
				return nil, fmt.Errorf("stage %q mode %q: remote mode needs a job_type", key, name)
			}
		}
		for field, ref := range def.References {
			if _, _, ok := splitRef(ref); !ok {
				return nil, fmt.Errorf("stage %q reference %q: want <stage>.<field>, got %q", key, field, ref)
			}
		}
	}
	for _, typ := range []types.PipelineType{types.PipelineTypeTalkingHead, types.PipelineTypeBroll} {
		for _, key := range typ.Stages() {
			if _, ok := c.Stages[key]; !ok {
				return nil, fmt.Errorf("stage catalog missing %q", key)
			}
		}
	}
	return &c, nil
}

func (c *Catalog) Stage(key types.StageKey) (*StageDef, bool) {
	if c == nil {
		return nil, false
	}
	def, ok := c.Stages[key]
	return def, ok
}

// Mode picks the mode named by input["mode"], falling back to the default mode.
func (d *StageDef) Mode(input map[string]any) (string, *ModeDef, error) {
	name := d.DefaultMode
	if v, ok := input["mode"].(string); ok && strings.TrimSpace(v) != "" {
		name = strings.TrimSpace(v)
	}
	m, ok := d.Modes[name]
	if !ok {
		return "", nil, fmt.Errorf("stage %s has no mode %q: %w", d.Key, name, types.ErrInvalidArgument)
	}
	return name, m, nil
}

// IsFreeText reports whether field is a long-form text field in any mode.
func (d *StageDef) IsFreeText(field string) bool {
	for _, m := range d.Modes {
		for _, f := range m.FreeText {
			if f == field {
				return true
			}
		}
	}
	return false
}

func splitRef(ref string) (types.StageKey, string, bool) {
	stage, field, ok := strings.Cut(strings.TrimSpace(ref), ".")
	if !ok || stage == "" || field == "" {
		return "", "", false
	}
	return types.StageKey(stage), field, true
}
