package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/flowd/internal/common"
	"github.com/ternarybob/flowd/internal/models"
)

// Run outcome types
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusExit    = "exit"
)

// Status is the terminal outcome of a flow run
type Status struct {
	Type    string
	Message string
}

// SecretResolver materializes a secret definition into usable values
type SecretResolver interface {
	Resolve(def models.SecretDefinition) (map[string]interface{}, error)
}

// Env carries the process-level wiring a flow run needs. It is shared across
// runs and must stay read-only once handed out.
type Env struct {
	FlowsPath     string
	TemplatesPath string
	DataPath      string
	SecretsPath   string
	Location      *time.Location
	Logger        arbor.ILogger
	Secrets       SecretResolver
}

func (e *Env) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func (e *Env) logger() arbor.ILogger {
	if e.Logger != nil {
		return e.Logger
	}
	return arbor.NewLogger()
}

// Flow is a single invocation of a flow definition. It owns its blackboard;
// child flows get their own.
type Flow struct {
	env     *Env
	def     *models.FlowDefinition
	data    Blackboard
	index   map[string]int
	secrets []models.SecretDefinition
}

// NewFlow loads and validates the definition at path (relative to the flows
// directory) and prepares a fresh blackboard seeded with the reserved keys.
func NewFlow(env *Env, path string, payload interface{}, loopIndex int, jobID string) (*Flow, error) {
	raw, err := os.ReadFile(filepath.Join(env.FlowsPath, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFlowNotFound, path, err)
	}

	var def models.FlowDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFlowParsing, path, err)
	}
	def.Path = path

	index, err := validateDefinition(&def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFlowParsing, path, err)
	}

	flow := &Flow{
		env:   env,
		def:   &def,
		index: index,
		data: Blackboard{
			KeyErrors:    []interface{}{},
			KeyInput:     payload,
			KeyLoopIndex: loopIndex,
			KeyJobID:     jobID,
			KeyTimestamp: common.MakeTimestamp(env.location()),
			KeyFlowPath:  path,
		},
	}
	flow.secrets = loadSecretDefinitions(env.SecretsPath)
	return flow, nil
}

func validateDefinition(def *models.FlowDefinition) (map[string]int, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("flow name is required")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("flow %s has no steps", def.Name)
	}

	index := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i)
		}
		if step.Type == "" {
			return nil, fmt.Errorf("step %s has no type", step.Name)
		}
		if _, dup := index[step.Name]; dup {
			return nil, fmt.Errorf("duplicate step name %s", step.Name)
		}
		index[step.Name] = i
	}
	return index, nil
}

// loadSecretDefinitions reads the secrets file if present. A missing file is
// fine until a step actually asks for a secret.
func loadSecretDefinitions(path string) []models.SecretDefinition {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var defs []models.SecretDefinition
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil
	}
	return defs
}

// Name returns the flow's declared name
func (f *Flow) Name() string {
	return f.def.Name
}

// Path returns the flow's path relative to the flows directory
func (f *Flow) Path() string {
	return f.def.Path
}

// Data exposes the blackboard, used by callers that persist run results
func (f *Flow) Data() Blackboard {
	return f.data
}

func (f *Flow) secretDefinition(name string) (models.SecretDefinition, error) {
	for _, def := range f.secrets {
		if def.Name == name {
			return def, nil
		}
	}
	return models.SecretDefinition{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func (f *Flow) resolveSecret(name string) (map[string]interface{}, error) {
	def, err := f.secretDefinition(name)
	if err != nil {
		return nil, err
	}
	if f.env.Secrets == nil {
		return nil, fmt.Errorf("no secret resolver configured")
	}
	return f.env.Secrets.Resolve(def)
}

// Process walks the step list until it runs off the end, a step redirects it,
// an error propagates, or the context is cancelled. The blackboard is
// returned in whatever state the run left it.
func (f *Flow) Process(ctx context.Context) (Blackboard, Status) {
	log := f.env.logger()
	log.Info().Str("flow", f.def.Name).Str("path", f.def.Path).Msg("Starting flow")

	i := 0
	for i < len(f.def.Steps) {
		if ctx.Err() != nil {
			log.Warn().Str("flow", f.def.Name).Msg("Flow stopped on request")
			return f.data, Status{Type: StatusFailed, Message: "Flow stopped on request."}
		}

		def := &f.def.Steps[i]
		runner, err := newStep(f, def)
		if err != nil {
			// Construction failures are definition problems, not runtime
			// errors, so they are not subject to ignore_errors routing.
			log.Error().Str("flow", f.def.Name).Str("step", def.Name).Err(err).Msg("Step construction failed")
			return f.data, Status{Type: StatusFailed, Message: err.Error()}
		}

		result, err := f.runStep(ctx, def, runner)
		if err != nil {
			var exitErr *FlowExitError
			if errors.As(err, &exitErr) {
				log.Info().Str("flow", f.def.Name).Str("step", def.Name).Msg("Flow exited")
				return f.data, Status{Type: StatusExit, Message: exitErr.Message}
			}

			result = f.routeError(def, err)
			if result == nil {
				log.Error().Str("flow", f.def.Name).Str("step", def.Name).Err(err).Msg("Flow failed")
				return f.data, Status{Type: StatusFailed, Message: err.Error()}
			}
		}

		if result != nil && result.Goto != "" {
			switch result.Goto {
			case GotoExit:
				return f.data, Status{Type: StatusExit, Message: "Flow exited."}
			case GotoEnd:
				i = len(f.def.Steps)
			case GotoStart:
				i = 0
			default:
				target, ok := f.index[result.Goto]
				if !ok {
					msg := fmt.Sprintf("goto target %s not found", result.Goto)
					log.Error().Str("flow", f.def.Name).Str("step", def.Name).Msg(msg)
					return f.data, Status{Type: StatusFailed, Message: msg}
				}
				i = target
			}
			continue
		}

		i++
	}

	log.Info().Str("flow", f.def.Name).Msg("Flow completed")
	return f.data, Status{Type: StatusSuccess, Message: "Flow completed successfully."}
}

// routeError applies the per-step error policy. It records the error on the
// blackboard and returns a redirect when the step declares on_error_goto, a
// skip marker when a pattern ignores it, or nil to propagate.
func (f *Flow) routeError(def *models.StepDefinition, err error) *StepResult {
	record := ErrorRecord(def.Name, err)
	flat := oneLine(err)

	for _, pattern := range def.IgnoreErrors {
		re, compileErr := compileAnchored(pattern)
		if compileErr != nil {
			f.env.logger().Warn().
				Str("flow", f.def.Name).
				Str("step", def.Name).
				Str("pattern", pattern).
				Err(compileErr).
				Msg("Invalid ignore_errors pattern")
			continue
		}
		if re.MatchString(flat) {
			record["ignored"] = fmt.Sprintf("Error ignored based on regex: %s", pattern)
			f.data.AppendError(record)
			f.env.logger().Warn().
				Str("flow", f.def.Name).
				Str("step", def.Name).
				Str("pattern", pattern).
				Msg("Step error ignored")
			return &StepResult{}
		}
	}

	f.data.AppendError(record)
	if def.OnErrorGoto != "" {
		f.env.logger().Warn().
			Str("flow", f.def.Name).
			Str("step", def.Name).
			Str("goto", def.OnErrorGoto).
			Err(err).
			Msg("Step error redirected")
		return &StepResult{Goto: def.OnErrorGoto}
	}
	return nil
}

// compileAnchored matches patterns at the start of the message, so a pattern
// like "REST request failed with status code 404" does not need a leading
// wildcard but also does not match mid-string.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")")
}
