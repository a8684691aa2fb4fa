package planner

import (
	"encoding/json"
	"strings"
)

// Branch is a short chain of self-contained instructions handed to a single executor.
type Branch []string

// Stage groups branches that are dispatched together.
type Stage []Branch

// Plan is the ordered list of stages still to be executed.
// An empty plan means there is no more work.
type Plan struct {
	Steps []Stage `json:"steps"`
}

// Empty reports whether the plan has no stages left.
func (p Plan) Empty() bool { return len(p.Steps) == 0 }

// Len returns the number of remaining stages.
func (p Plan) Len() int { return len(p.Steps) }

// PopStage removes and returns the first stage.
// ok is false when the plan was already empty.
func (p *Plan) PopStage() (Stage, bool) {
	if len(p.Steps) == 0 {
		return nil, false
	}
	stage := p.Steps[0]
	p.Steps = p.Steps[1:]
	return stage, true
}

// Instruction joins the branch steps into the single composite instruction
// sent to an executor. Step text is passed through unchanged.
func (b Branch) Instruction() string {
	return strings.Join(b, "\n")
}

// UnmarshalJSON decodes one wire-format inner array. On the wire every stage
// carries a single branch; an empty array is an empty stage.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var steps []string
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	if len(steps) == 0 {
		*s = Stage{}
		return nil
	}
	*s = Stage{Branch(steps)}
	return nil
}

// wire flattens the plan to the list-of-lists format. A stage holding several
// branches is written as consecutive inner arrays.
func (p Plan) wire() [][]string {
	out := make([][]string, 0, len(p.Steps))
	for _, st := range p.Steps {
		if len(st) == 0 {
			out = append(out, []string{})
			continue
		}
		for _, b := range st {
			if b == nil {
				b = Branch{}
			}
			out = append(out, []string(b))
		}
	}
	return out
}

// MarshalJSON writes the plan in its wire format.
func (p Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Steps [][]string `json:"steps"`
	}{Steps: p.wire()})
}

// Encode renders the plan in its wire format. A nil plan encodes as {"steps":[]}.
func (p Plan) Encode() string {
	b, err := json.Marshal(p)
	if err != nil {
		return `{"steps":[]}`
	}
	return string(b)
}
