package flows

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/flowd/internal/models"
)

// flowLoopStep fans a list out over concurrent child flow runs. Each child
// gets one element as its payload and a 1-based loop index. The children's
// error lists are folded back into the parent after all of them finish.
type flowLoopStep struct {
	flow  *Flow
	def   *models.StepDefinition
	path  string
	items []interface{}
}

func newFlowLoopStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "flow_loop")
	if err != nil {
		return nil, err
	}
	path, err := requiredString(def, section, "path")
	if err != nil {
		return nil, err
	}
	dataKey, err := requiredString(def, section, "data_key")
	if err != nil {
		return nil, err
	}

	raw, _ := f.data.Get(dataKey)
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("step %s: data key %s must produce a list", def.Name, dataKey)
	}
	return &flowLoopStep{flow: f, def: def, path: path, items: items}, nil
}

func (s *flowLoopStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("child", s.path).
		Int("count", len(s.items)).
		Msg("Running flow loop")

	results := make([]Blackboard, len(s.items))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, item := range s.items {
		group.Go(func() error {
			child, err := NewFlow(s.flow.env, s.path, item, i+1, "")
			if err != nil {
				return err
			}
			results[i], _ = child.Process(groupCtx)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Children keep their own boards; only the error lists bubble up.
	value := make([]interface{}, len(results))
	for i, data := range results {
		for _, record := range data.Errors() {
			if mapped, ok := record.(map[string]interface{}); ok {
				s.flow.data.AppendError(mapped)
			}
		}
		value[i] = map[string]interface{}(data)
	}
	return &StepResult{Value: value}, nil
}
