package orchestrator

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/pkg/errors"
)

// orchestrationLevel is the plan level reserved for the aggregation pass
const orchestrationLevel = 4

// Voice is one resolved (provider, model, tier) execution unit
type Voice struct {
	Provider string
	Model    string
	Tier     string
	// VoiceID identifies the voice within a council run
	VoiceID string
}

// Level is one ordered stage of a plan; its voices run in parallel
type Level struct {
	Number int
	Voices []Voice
}

// Plan is a fully resolved voice plan ready for execution
type Plan struct {
	ConfigType model.ConfigType
	// Levels are the analysis stages in ascending order
	Levels []Level
	// Orchestration, when set, runs after all levels and writes the final
	// aggregated suggestion set
	Orchestration *Voice
	// Snapshot is the opaque levels_config persisted on the run record
	Snapshot model.JSONMap
}

// SingleRequest is the input for a single-voice analysis
type SingleRequest struct {
	Provider           string `json:"provider"`
	Model              string `json:"model,omitempty"`
	Tier               string `json:"tier,omitempty"`
	CustomInstructions string `json:"customInstructions,omitempty"`
	EnabledLevels      []int  `json:"enabledLevels,omitempty"`
	SkipLevel3         bool   `json:"skipLevel3,omitempty"`
}

// resolveVoice validates a (provider, model, tier) triple against the
// registry, filling in the provider's default model when none is given.
func resolveVoice(registry *provider.Registry, providerID, modelID, tier, voiceID string) (*Voice, error) {
	def, err := registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	if modelID == "" {
		m := def.DefaultModel()
		if m == nil {
			return nil, errors.ErrValidation("provider " + providerID + " has no models configured")
		}
		modelID = m.ID
		if tier == "" {
			tier = m.Tier
		}
	} else {
		m := def.FindModel(modelID)
		if m == nil {
			return nil, errors.ErrValidation(
				fmt.Sprintf("unknown model %q for provider %s", modelID, providerID))
		}
		if tier == "" {
			tier = m.Tier
		}
	}

	return &Voice{
		Provider: providerID,
		Model:    modelID,
		Tier:     provider.NormalizeTier(tier),
		VoiceID:  voiceID,
	}, nil
}

// ResolveSingle builds a plan for a single-voice request. Without explicit
// levels the voice runs once as the final level; with enabledLevels the same
// voice runs once per enabled level in ascending order.
func ResolveSingle(registry *provider.Registry, req *SingleRequest) (*Plan, error) {
	if req.Provider == "" {
		return nil, errors.ErrValidation("provider is required")
	}

	voice, err := resolveVoice(registry, req.Provider, req.Model, req.Tier, "")
	if err != nil {
		return nil, err
	}

	levels := req.EnabledLevels
	if len(levels) == 0 {
		levels = []int{1}
	}
	sort.Ints(levels)

	plan := &Plan{ConfigType: model.ConfigTypeSingle}
	for _, n := range levels {
		if n < 1 || n > 3 {
			return nil, errors.ErrValidation(fmt.Sprintf("invalid level %d", n))
		}
		if n == 3 && req.SkipLevel3 {
			continue
		}
		plan.Levels = append(plan.Levels, Level{Number: n, Voices: []Voice{*voice}})
	}
	if len(plan.Levels) == 0 {
		return nil, errors.ErrValidation("no enabled levels")
	}

	plan.Snapshot = model.JSONMap{
		"configType": string(model.ConfigTypeSingle),
		"provider":   voice.Provider,
		"model":      voice.Model,
		"tier":       voice.Tier,
	}
	return plan, nil
}

// ResolveCouncil builds a plan from a council configuration. Levels 1..3 are
// analysis stages; level 4, when enabled, names the orchestration voice. For
// council plans without an explicit level 4 the first voice of the last
// enabled level orchestrates.
func ResolveCouncil(registry *provider.Registry, configType model.ConfigType, cfg model.CouncilConfig) (*Plan, error) {
	if configType != model.ConfigTypeAdvanced && configType != model.ConfigTypeCouncil {
		return nil, errors.ErrValidation("configType must be advanced or council")
	}
	if len(cfg) == 0 {
		return nil, errors.ErrValidation("council config has no levels")
	}

	plan := &Plan{ConfigType: configType}

	var numbers []int
	for key := range cfg {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > orchestrationLevel {
			return nil, errors.ErrValidation("invalid council level key: " + key)
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		levelCfg := cfg[strconv.Itoa(n)]
		if !levelCfg.Enabled || len(levelCfg.Voices) == 0 {
			continue
		}

		if n == orchestrationLevel {
			v := levelCfg.Voices[0]
			voice, err := resolveVoice(registry, v.Provider, v.Model, v.Tier, "orchestration")
			if err != nil {
				return nil, err
			}
			plan.Orchestration = voice
			continue
		}

		if configType == model.ConfigTypeAdvanced && len(levelCfg.Voices) > 1 {
			return nil, errors.ErrValidation(
				fmt.Sprintf("advanced plans allow one voice per level, level %d has %d", n, len(levelCfg.Voices)))
		}

		level := Level{Number: n}
		for i, v := range levelCfg.Voices {
			voice, err := resolveVoice(registry, v.Provider, v.Model, v.Tier,
				fmt.Sprintf("L%d-%s-%d", n, v.Provider, i))
			if err != nil {
				return nil, err
			}
			level.Voices = append(level.Voices, *voice)
		}
		plan.Levels = append(plan.Levels, level)
	}

	if len(plan.Levels) == 0 {
		return nil, errors.ErrValidation("council config has no enabled levels")
	}

	// Council output is always aggregated; default the orchestrator to the
	// first voice of the last analysis level
	if configType == model.ConfigTypeCouncil && plan.Orchestration == nil {
		last := plan.Levels[len(plan.Levels)-1]
		v := last.Voices[0]
		v.VoiceID = "orchestration"
		plan.Orchestration = &v
	}

	plan.Snapshot = snapshotConfig(configType, cfg)
	return plan, nil
}

// snapshotConfig converts a council config into the opaque levels_config map
// stored on the run record
func snapshotConfig(configType model.ConfigType, cfg model.CouncilConfig) model.JSONMap {
	levels := make(map[string]interface{}, len(cfg))
	for key, level := range cfg {
		voices := make([]interface{}, 0, len(level.Voices))
		for _, v := range level.Voices {
			voices = append(voices, map[string]interface{}{
				"provider": v.Provider,
				"model":    v.Model,
				"tier":     v.Tier,
			})
		}
		levels[key] = map[string]interface{}{
			"enabled": level.Enabled,
			"voices":  voices,
		}
	}
	return model.JSONMap{
		"configType": string(configType),
		"levels":     levels,
	}
}

// IsCouncilShaped reports whether the plan produces raw per-voice output that
// an orchestration pass later aggregates
func (p *Plan) IsCouncilShaped() bool {
	return p.ConfigType == model.ConfigTypeCouncil
}

// VoiceCount returns the total number of analysis voices across levels
func (p *Plan) VoiceCount() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level.Voices)
	}
	return n
}
