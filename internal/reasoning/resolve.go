package reasoning

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/settings"
)

// Request is the caller-supplied thinking preference. Mode selects the
// structured form; the legacy free-form fields remain accepted for older
// clients and win only when no mode is given.
type Request struct {
	Mode  string `json:"mode,omitempty"`  // "off" or "level".
	Level string `json:"level,omitempty"` // Level id when mode is "level".

	// Legacy free-form fields.
	Enabled   *bool  `json:"enabled,omitempty"`
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude,omitempty"`

	// RawConfig is forwarded to the provider untouched and overrides every
	// derived field.
	RawConfig map[string]any `json:"raw_config,omitempty"`
}

// Request mode values.
const (
	ModeOff   = "off"
	ModeLevel = "level"
)

// Options is the normalized provider-agnostic thinking configuration.
type Options struct {
	Enabled         bool
	Effort          string
	MaxTokens       int
	IncludeThoughts bool
	Exclude         bool

	// RawConfig, when present, is passed through untouched and takes
	// precedence over every derived field.
	RawConfig map[string]any
}

// Disabled is the resolved configuration when thinking is off.
var Disabled = Options{}

// Parameter keys the resolver derives generic fields from. Anything else in
// a level's visible params lands in RawConfig untouched.
const (
	paramEffort          = "effort"
	paramMaxTokens       = "max_tokens"
	paramBudgetTokens    = "budget_tokens"
	paramThinkingBudget  = "thinking_budget"
	paramIncludeThoughts = "include_thoughts"
	paramExclude         = "exclude"
	paramLevel           = "level"
)

// Resolve normalizes the caller preference against the model profile.
// Priority: explicit off, then an explicit level (which must exist), then
// the profile default. Unknown level ids fail with THINKING_LEVEL_INVALID.
func Resolve(profile Profile, req *Request) (Options, error) {
	if req != nil {
		switch strings.TrimSpace(req.Mode) {
		case ModeOff:
			return Disabled, nil
		case ModeLevel:
			level, ok := profile.FindLevel(req.Level)
			if !ok {
				return Disabled, apierr.Newf(apierr.KindInvalidRequest, "unknown thinking level %q", req.Level).
					WithCode(apierr.CodeThinkingLevelInvalid)
			}
			return applyRawConfig(optionsFromLevel(level), req.RawConfig), nil
		case "":
			if req.Enabled != nil && !*req.Enabled {
				return Disabled, nil
			}
			if legacy, ok := legacyOptions(req); ok {
				return legacy, nil
			}
		default:
			return Disabled, apierr.Newf(apierr.KindInvalidRequest, "unknown reasoning mode %q", req.Mode)
		}
	}

	if !profile.SupportsThinking || strings.TrimSpace(profile.DefaultLevel) == "" {
		return Disabled, nil
	}
	level, ok := profile.FindLevel(profile.DefaultLevel)
	if !ok {
		return Disabled, nil
	}
	opts := optionsFromLevel(level)
	if req != nil {
		opts = applyRawConfig(opts, req.RawConfig)
	}
	return opts, nil
}

// legacyOptions maps the free-form request fields onto Options.
func legacyOptions(req *Request) (Options, bool) {
	if req == nil {
		return Disabled, false
	}
	hasLegacy := req.Effort != "" || req.MaxTokens > 0 || req.Exclude ||
		(req.Enabled != nil && *req.Enabled) || len(req.RawConfig) > 0
	if !hasLegacy {
		return Disabled, false
	}
	opts := Options{
		Enabled:   true,
		Effort:    strings.TrimSpace(req.Effort),
		MaxTokens: req.MaxTokens,
		Exclude:   req.Exclude,
	}
	opts.IncludeThoughts = !req.Exclude
	return applyRawConfig(opts, req.RawConfig), true
}

// optionsFromLevel derives generic options from a level's visible params.
// Explicit provider-specific values are the source of truth; the generic
// fallback only fires when the level carries nothing but qualitative tokens.
func optionsFromLevel(level Level) Options {
	opts := Options{Enabled: true}

	var (
		haveBudget  bool
		haveInclude bool
		haveKeyed   bool
		extra       map[string]any
	)

	for _, param := range level.VisibleParams {
		key := strings.TrimSpace(param.Key)
		switch key {
		case paramEffort:
			if s, ok := stringValue(param.Value); ok {
				opts.Effort = s
				haveKeyed = true
			}
		case paramMaxTokens, paramBudgetTokens, paramThinkingBudget:
			if n, ok := intValue(param.Value); ok && n > 0 {
				opts.MaxTokens = n
				haveBudget = true
				haveKeyed = true
			}
		case paramIncludeThoughts:
			if b, ok := boolValue(param.Value); ok {
				opts.IncludeThoughts = b
				haveInclude = true
				haveKeyed = true
			}
		case paramExclude:
			if b, ok := boolValue(param.Value); ok {
				opts.Exclude = b
				haveKeyed = true
			}
		case paramLevel:
			// Qualitative detail keyword; kept for providers that consume it
			// directly, does not mark the level as fully specified.
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[key] = param.Value
		default:
			if key == "" {
				continue
			}
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[key] = param.Value
		}
	}

	// A level with only a qualitative token keeps working through the
	// documented fallback instead of per-provider special cases.
	if !haveBudget && !haveInclude && !haveKeyed {
		opts.IncludeThoughts = true
		opts.MaxTokens = settings.FallbackThinkingBudgetTokens
	}

	if len(extra) > 0 {
		opts.RawConfig = extra
	}
	return opts
}

// applyRawConfig merges a caller raw config over the derived options.
func applyRawConfig(opts Options, raw map[string]any) Options {
	if len(raw) == 0 {
		return opts
	}
	merged := make(map[string]any, len(opts.RawConfig)+len(raw))
	for k, v := range opts.RawConfig {
		merged[k] = v
	}
	for k, v := range raw {
		merged[k] = v
	}
	opts.RawConfig = merged
	return opts
}
