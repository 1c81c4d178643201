// Package provider defines AI provider registrations and the subprocess
// adapter used to run one analysis voice per invocation.
package provider

import (
	"os/exec"
	"strings"

	"github.com/pairreview/pairreview/internal/config"
	"github.com/pairreview/pairreview/pkg/errors"
)

// Tier buckets models by speed/quality tradeoff
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierThorough = "thorough"
)

// NormalizeTier resolves tier aliases: premium means thorough, free means fast.
// Unrecognized values pass through untouched.
func NormalizeTier(tier string) string {
	switch strings.ToLower(tier) {
	case "premium":
		return TierThorough
	case "free":
		return TierFast
	default:
		return strings.ToLower(tier)
	}
}

// Model is one selectable model inside a provider definition
type Model struct {
	ID          string `json:"id"`
	Tier        string `json:"tier"`
	Name        string `json:"name,omitempty"`
	Badge       string `json:"badge,omitempty"`
	Default     bool   `json:"default,omitempty"`
	Tagline     string `json:"tagline,omitempty"`
	Description string `json:"description,omitempty"`
}

// Definition describes how to invoke one provider CLI
type Definition struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	// Args is the base argv template; "{model}" is replaced at spawn time
	Args []string          `json:"args"`
	Env  map[string]string `json:"env,omitempty"`

	// SafeArgs restrict the provider to read-only tooling; YoloArgs replace
	// them when the yolo flag is set
	SafeArgs []string `json:"safe_args,omitempty"`
	YoloArgs []string `json:"yolo_args,omitempty"`

	// ExtraArgs come from config overrides and are always appended
	ExtraArgs []string `json:"extra_args,omitempty"`

	Models              []Model `json:"models"`
	InstallInstructions string  `json:"installInstructions,omitempty"`
}

// DefaultModel resolves the provider's default model: the first model flagged
// default, else the first balanced model, else the first overall, else nil.
func (d *Definition) DefaultModel() *Model {
	for i := range d.Models {
		if d.Models[i].Default {
			return &d.Models[i]
		}
	}
	for i := range d.Models {
		if NormalizeTier(d.Models[i].Tier) == TierBalanced {
			return &d.Models[i]
		}
	}
	if len(d.Models) > 0 {
		return &d.Models[0]
	}
	return nil
}

// FindModel returns the model with the given id, or nil
func (d *Definition) FindModel(id string) *Model {
	for i := range d.Models {
		if d.Models[i].ID == id {
			return &d.Models[i]
		}
	}
	return nil
}

// Available reports whether the provider binary can be found
func (d *Definition) Available() bool {
	_, err := exec.LookPath(d.Command)
	return err == nil
}

// BuildArgs constructs the final argv for a spawn
func (d *Definition) BuildArgs(modelID string, yolo bool) []string {
	args := make([]string, 0, len(d.Args)+len(d.SafeArgs)+len(d.ExtraArgs))
	for _, a := range d.Args {
		args = append(args, strings.ReplaceAll(a, "{model}", modelID))
	}
	if yolo && len(d.YoloArgs) > 0 {
		args = append(args, d.YoloArgs...)
	} else {
		args = append(args, d.SafeArgs...)
	}
	args = append(args, d.ExtraArgs...)
	return args
}

// builtinDefinitions are the providers known out of the box. Config overrides
// merge on top of these.
func builtinDefinitions() []Definition {
	return []Definition{
		{
			ID:       "claude",
			Command:  "claude",
			Args:     []string{"-p", "--output-format", "stream-json", "--model", "{model}"},
			SafeArgs: []string{"--allowedTools", "Read,Grep,Glob,LS"},
			YoloArgs: []string{"--dangerously-skip-permissions"},
			Models: []Model{
				{ID: "opus", Tier: TierThorough, Name: "Opus"},
				{ID: "sonnet", Tier: TierBalanced, Name: "Sonnet", Default: true},
				{ID: "haiku", Tier: TierFast, Name: "Haiku"},
			},
			InstallInstructions: "npm install -g @anthropic-ai/claude-code",
		},
		{
			ID:       "codex",
			Command:  "codex",
			Args:     []string{"exec", "--json", "--model", "{model}"},
			SafeArgs: []string{"--sandbox", "read-only"},
			YoloArgs: []string{"--full-auto"},
			Models: []Model{
				{ID: "gpt-5", Tier: TierThorough, Name: "GPT-5"},
				{ID: "gpt-5-mini", Tier: TierBalanced, Name: "GPT-5 mini", Default: true},
				{ID: "gpt-5-nano", Tier: TierFast, Name: "GPT-5 nano"},
			},
			InstallInstructions: "npm install -g @openai/codex",
		},
		{
			ID:       "gemini",
			Command:  "gemini",
			Args:     []string{"-m", "{model}", "-o", "json"},
			YoloArgs: []string{"--yolo"},
			Models: []Model{
				{ID: "gemini-2.5-pro", Tier: TierThorough, Name: "Gemini 2.5 Pro", Default: true},
				{ID: "gemini-2.5-flash", Tier: TierFast, Name: "Gemini 2.5 Flash"},
			},
			InstallInstructions: "npm install -g @google/gemini-cli",
		},
		{
			ID:       "cursor",
			Command:  "cursor-agent",
			Args:     []string{"-p", "--model", "{model}", "--output-format", "stream-json"},
			YoloArgs: []string{"--force"},
			Models: []Model{
				{ID: "auto", Tier: TierBalanced, Name: "Auto", Default: true},
			},
			InstallInstructions: "curl https://cursor.com/install -fsS | bash",
		},
	}
}

// Registry holds the merged provider definitions
type Registry struct {
	defs map[string]*Definition
	ids  []string
}

// NewRegistry builds the registry from the built-in definitions merged with
// config overrides. Overridden models with a known id replace the built-in;
// new ids are appended; an empty override array means no override.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{defs: make(map[string]*Definition)}

	for _, def := range builtinDefinitions() {
		d := def
		r.defs[d.ID] = &d
		r.ids = append(r.ids, d.ID)
	}

	if cfg == nil {
		return r
	}

	for id, override := range cfg.Providers {
		def, ok := r.defs[id]
		if !ok {
			def = &Definition{ID: id}
			r.defs[id] = def
			r.ids = append(r.ids, id)
		}
		applyOverride(def, &override)
	}

	return r
}

func applyOverride(def *Definition, override *config.ProviderOverride) {
	if override.Command != "" {
		def.Command = override.Command
	}
	if len(override.ExtraArgs) > 0 {
		def.ExtraArgs = override.ExtraArgs
	}
	if len(override.Env) > 0 {
		if def.Env == nil {
			def.Env = make(map[string]string)
		}
		for k, v := range override.Env {
			def.Env[k] = v
		}
	}
	if override.InstallInstructions != "" {
		def.InstallInstructions = override.InstallInstructions
	}
	for _, m := range override.Models {
		merged := Model{
			ID:          m.ID,
			Tier:        NormalizeTier(m.Tier),
			Name:        m.Name,
			Badge:       m.Badge,
			Default:     m.Default,
			Tagline:     m.Tagline,
			Description: m.Description,
		}
		if existing := def.FindModel(m.ID); existing != nil {
			*existing = merged
		} else {
			def.Models = append(def.Models, merged)
		}
	}
}

// Get returns the definition for a provider id
func (r *Registry) Get(id string) (*Definition, error) {
	def, ok := r.defs[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeProviderNotFound, "unknown provider: "+id)
	}
	return def, nil
}

// List returns all definitions in registration order
func (r *Registry) List() []*Definition {
	defs := make([]*Definition, 0, len(r.ids))
	for _, id := range r.ids {
		defs = append(defs, r.defs[id])
	}
	return defs
}
