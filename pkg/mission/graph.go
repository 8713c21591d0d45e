// Package mission executes user-submitted plans as dependency DAGs:
// steps are layered by their dependency depth, same-level steps run
// concurrently through the agent executor, and per-agent credits are
// attributed back to the mission.
package mission

import (
	"fmt"

	"github.com/gpilot-io/gpilot/pkg/models"
)

// ValidationError reports a plan the executor refuses to run. It is
// surfaced synchronously at submission and never enters the queue.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid mission plan: " + e.Msg
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// node is one step plus its resolved graph position.
type node struct {
	step     models.Step
	level    int
	children []string
}

// graph is a validated, layered view of a mission plan. Levels hold
// agent names in plan declaration order so execution is deterministic.
type graph struct {
	nodes  map[string]*node
	levels [][]string
}

// buildGraph validates a plan and layers it for execution. Duplicate
// agent names, references to unknown steps and cycles are rejected;
// nothing runs for an invalid plan.
func buildGraph(plan models.Plan) (*graph, error) {
	if len(plan.Steps) == 0 {
		return nil, validationErrorf("plan has no steps")
	}

	nodes := make(map[string]*node, len(plan.Steps))
	order := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.AgentName == "" {
			return nil, validationErrorf("step without agent_name")
		}
		if _, dup := nodes[step.AgentName]; dup {
			return nil, validationErrorf("duplicate step %q", step.AgentName)
		}
		nodes[step.AgentName] = &node{step: step}
		order = append(order, step.AgentName)
	}

	inDegree := make(map[string]int, len(nodes))
	for _, name := range order {
		n := nodes[name]
		for _, dep := range n.step.Dependencies {
			parent, ok := nodes[dep]
			if !ok {
				return nil, validationErrorf("step %q depends on unknown step %q", name, dep)
			}
			parent.children = append(parent.children, name)
			inDegree[name]++
		}
	}

	// Kahn's algorithm: anything left unprocessed sits on a cycle.
	ready := make([]string, 0, len(nodes))
	for _, name := range order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	processed := 0
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		processed++

		n := nodes[name]
		for _, dep := range n.step.Dependencies {
			if lvl := nodes[dep].level + 1; lvl > n.level {
				n.level = lvl
			}
		}
		for _, child := range n.children {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if processed != len(nodes) {
		cyclic := make([]string, 0)
		for _, name := range order {
			if inDegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, validationErrorf("dependency cycle involving %v", cyclic)
	}

	depth := 0
	for _, n := range nodes {
		if n.level > depth {
			depth = n.level
		}
	}
	levels := make([][]string, depth+1)
	for _, name := range order {
		lvl := nodes[name].level
		levels[lvl] = append(levels[lvl], name)
	}

	return &graph{nodes: nodes, levels: levels}, nil
}

// Validate rejects malformed plans without running anything.
func Validate(plan models.Plan) error {
	_, err := buildGraph(plan)
	return err
}
