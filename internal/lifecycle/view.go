package lifecycle

import (
	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

type StageView struct {
	Stage        types.StageKey    `json:"stage"`
	Label        string            `json:"label"`
	Mode         string            `json:"mode"`
	State        State             `json:"state"`
	RemoteStatus types.StageStatus `json:"remote_status"`
	Progress     int               `json:"progress"`
	Complete     bool              `json:"complete"`
	Saving       bool              `json:"saving"`
	Estimate     *credits.Amount   `json:"estimate,omitempty"`
	Error        string            `json:"error,omitempty"`
	Input        map[string]any    `json:"input"`
	Output       map[string]any    `json:"output,omitempty"`
}

type View struct {
	PipelineID   uuid.UUID            `json:"pipeline_id"`
	Loaded       bool                 `json:"loaded"`
	Name         string               `json:"name,omitempty"`
	PipelineType types.PipelineType   `json:"pipeline_type,omitempty"`
	Status       types.PipelineStatus `json:"status,omitempty"`
	CurrentStage types.StageKey       `json:"current_stage,omitempty"`
	Stages       []StageView          `json:"stages"`
}

// View snapshots everything the wizard renders. Input includes unsaved edits.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{PipelineID: s.pipelineID, Stages: []StageView{}}
	p := s.pipeline
	if p == nil {
		return v
	}
	v.Loaded = true
	v.Name = p.Name
	v.PipelineType = p.PipelineType
	v.Status = p.Status
	v.CurrentStage = p.CurrentStage

	for _, key := range p.PipelineType.Stages() {
		def, ok := s.m.deps.Catalog.Stage(key)
		if !ok {
			continue
		}
		slot := p.Stage(key)
		sv := StageView{
			Stage:    key,
			Label:    def.Label,
			State:    s.machineLocked(key).state,
			Progress: def.Progress(slot),
			Complete: def.IsComplete(slot),
			Saving:   len(s.pending[key]) > 0 || s.writes[key] > 0,
			Input:    map[string]any{},
		}
		if slot != nil {
			sv.RemoteStatus = slot.Status
			sv.Error = slot.Error
			sv.Input = slot.InputMap()
			sv.Output = slot.OutputMap()
		}
		for k, val := range s.pending[key] {
			if val == nil {
				delete(sv.Input, k)
				continue
			}
			sv.Input[k] = val
		}
		if name, mode, err := def.Mode(sv.Input); err == nil {
			sv.Mode = name
			resolved := s.m.deps.Catalog.ResolveInput(p, def, sv.Input)
			if def.Validate(mode, resolved) == nil {
				if amount, err := s.m.deps.Catalog.Estimate(mode, resolved); err == nil {
					sv.Estimate = &amount
				}
			}
		}
		v.Stages = append(v.Stages, sv)
	}
	return v
}
