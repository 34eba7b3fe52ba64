package orchestrator

import (
	"strings"

	"llm_fanout/registry"
)

// Mode is the processing strategy of a run.
type Mode string

const (
	ModeBatch      Mode = "batch"
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// DefaultBatchSize is the group size of batch mode.
const DefaultBatchSize = 3

// ParseMode maps the wire value to a Mode. Unknown and empty values are batch.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeParallel, ModeSequential, ModeBatch:
		return m
	}
	return ModeBatch
}

// Label is the capitalised name used in summaries.
func (m Mode) Label() string {
	switch m {
	case ModeParallel:
		return "Parallel"
	case ModeSequential:
		return "Sequential"
	}
	return "Batch"
}

// Plan is the ordered list of groups a run dispatches. Groups never overlap.
type Plan struct {
	Mode   Mode
	Groups [][]registry.Model
}

// NewPlan splits snapshot into groups for mode.
func NewPlan(mode Mode, snapshot []registry.Model, batchSize int) Plan {
	plan := Plan{Mode: mode}
	if len(snapshot) == 0 {
		return plan
	}

	size := len(snapshot)
	switch mode {
	case ModeSequential:
		size = 1
	case ModeBatch:
		size = batchSize
		if size <= 0 {
			size = DefaultBatchSize
		}
	}

	for start := 0; start < len(snapshot); start += size {
		end := min(start+size, len(snapshot))
		group := make([]registry.Model, end-start)
		copy(group, snapshot[start:end])
		plan.Groups = append(plan.Groups, group)
	}
	return plan
}

// Total is the number of models across all groups.
func (p Plan) Total() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// Empty reports whether there is nothing to dispatch.
func (p Plan) Empty() bool {
	return p.Total() == 0
}

func groupNames(group []registry.Model) []string {
	out := make([]string, len(group))
	for i, m := range group {
		out[i] = m.Name
	}
	return out
}
