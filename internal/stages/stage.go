package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

// ValidationError lists the required input fields that are missing or empty.
type ValidationError struct {
	Stage   types.StageKey
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: missing required fields: %s", e.Stage, strings.Join(e.Missing, ", "))
}

// ResolveInput returns a copy of input with mode defaults applied and empty
// reference fields filled from upstream stage outputs.
func (c *Catalog) ResolveInput(p *types.Pipeline, def *StageDef, input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	if _, mode, err := def.Mode(out); err == nil {
		for k, v := range mode.Defaults {
			if !present(out[k]) {
				out[k] = v
			}
		}
	}
	for field, ref := range def.References {
		if present(out[field]) {
			continue
		}
		refStage, refField, _ := splitRef(ref)
		if v, ok := p.Stage(refStage).OutputMap()[refField]; ok && present(v) {
			out[field] = v
		}
	}
	return out
}

func (d *StageDef) Validate(mode *ModeDef, input map[string]any) error {
	var missing []string
	for _, f := range mode.Required {
		if !present(input[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{Stage: d.Key, Missing: missing}
	}
	return nil
}

// Estimate prices one generation of the stage with the given (resolved) input.
func (c *Catalog) Estimate(mode *ModeDef, input map[string]any) (credits.Amount, error) {
	if mode.Sync {
		return 0, nil
	}
	var p credits.Params
	v := input[mode.Driver.Field]
	switch mode.Driver.Param {
	case "tier":
		p.Tier = asString(v)
	case "units":
		if mode.Driver.Measure == "length" {
			p.Units = utf8.RuneCountInString(asString(v))
		} else {
			f := asFloat(v)
			if math.IsNaN(f) || f > credits.MaxUnits {
				return 0, fmt.Errorf("%s %v exceeds %d: %w", mode.Driver.Field, v, credits.MaxUnits, types.ErrInvalidArgument)
			}
			p.Units = int(math.Ceil(f))
		}
	case "seconds":
		p.Seconds = asFloat(v)
	case "":
	default:
		return 0, fmt.Errorf("unknown pricing driver %q", mode.Driver.Param)
	}
	amount, err := credits.Estimate(mode.Pricing, p)
	if errors.Is(err, credits.ErrOutOfRange) || errors.Is(err, credits.ErrUnknownTier) {
		return 0, fmt.Errorf("%w: %w", types.ErrInvalidArgument, err)
	}
	return amount, err
}

// SyncOutput builds the output of a synchronous mode straight from its input.
func (c *Catalog) SyncOutput(mode *ModeDef, input map[string]any) map[string]any {
	out := map[string]any{}
	for _, f := range mode.Required {
		out[f] = input[f]
	}
	if f := mode.TextMetricsField; f != "" {
		for k, v := range TextMetrics(asString(input[f]), c.CharsPerSecond) {
			out[k] = v
		}
	}
	return out
}

// TextMetrics returns char_count and estimated_duration (whole seconds, rounded up).
func TextMetrics(text string, charsPerSecond int) map[string]any {
	if charsPerSecond <= 0 {
		charsPerSecond = 15
	}
	n := utf8.RuneCountInString(text)
	return map[string]any{
		"char_count":         n,
		"estimated_duration": (n + charsPerSecond - 1) / charsPerSecond,
	}
}

// IsComplete reports whether the stage has usable, final output.
func (d *StageDef) IsComplete(s *types.PipelineStage) bool {
	if s == nil {
		return false
	}
	if d.Completion == CompletionTerminalStatus {
		return s.Status == types.StageStatusCompleted && s.HasOutput()
	}
	return s.Complete && s.HasOutput()
}

// Progress is a display heuristic: 0 no input, 40 input only, 90 output not yet final, 100 complete.
func (d *StageDef) Progress(s *types.PipelineStage) int {
	switch {
	case d.IsComplete(s):
		return 100
	case s.HasOutput():
		return 90
	case hasInput(s.InputMap()):
		return 40
	default:
		return 0
	}
}

func hasInput(m map[string]any) bool {
	for k, v := range m {
		if k == "mode" {
			continue
		}
		if present(v) {
			return true
		}
	}
	return false
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		return t.String() != "" && t.String() != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}
