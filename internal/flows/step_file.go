package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// fileStep reads or writes a YAML/JSON file under the data directory. The
// path is templated against the blackboard, so flows can fan files out by
// timestamp or input.
type fileStep struct {
	flow     *Flow
	def      *models.StepDefinition
	section  map[string]interface{}
	path     string
	fileType string
	mode     string
}

func newFileStep(f *Flow, def *models.StepDefinition) (stepRunner, error) {
	section, err := requiredSection(def, "file")
	if err != nil {
		return nil, err
	}
	rawPath, err := requiredString(def, section, "path")
	if err != nil {
		return nil, err
	}
	path, err := transform.RenderString(rawPath, f.data)
	if err != nil {
		return nil, err
	}

	return &fileStep{
		flow:     f,
		def:      def,
		section:  section,
		path:     filepath.Join(f.env.DataPath, path),
		fileType: optionalString(section, "type", "yaml"),
		mode:     optionalString(section, "mode", "read"),
	}, nil
}

func (s *fileStep) run(ctx context.Context) (*StepResult, error) {
	s.flow.env.logger().Info().
		Str("flow", s.flow.def.Name).
		Str("step", s.def.Name).
		Str("mode", s.mode).
		Str("path", s.path).
		Msg("File operation")

	switch s.mode {
	case "read":
		value, err := s.read()
		if err != nil {
			return nil, err
		}
		return &StepResult{Value: value}, nil
	case "write":
		if err := s.write(os.O_WRONLY | os.O_CREATE | os.O_TRUNC); err != nil {
			return nil, err
		}
		return &StepResult{Value: map[string]interface{}{}}, nil
	case "append":
		if err := s.write(os.O_WRONLY | os.O_CREATE | os.O_APPEND); err != nil {
			return nil, err
		}
		return &StepResult{Value: map[string]interface{}{}}, nil
	default:
		return nil, fmt.Errorf("unsupported file mode: %s", s.mode)
	}
}

func (s *fileStep) read() (interface{}, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var value interface{}
	switch s.fileType {
	case "yaml":
		err = yaml.Unmarshal(raw, &value)
	case "json":
		err = json.Unmarshal(raw, &value)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", s.fileType)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *fileStep) write(flags int) error {
	dataKey, err := requiredString(s.def, s.section, "data_key")
	if err != nil {
		return err
	}
	data, err := s.flow.data.Lookup(dataKey)
	if err != nil {
		return err
	}

	var raw []byte
	switch s.fileType {
	case "yaml":
		raw, err = yaml.Marshal(transform.JSONSafe(data))
	case "json":
		raw, err = json.Marshal(transform.JSONSafe(data))
	default:
		return fmt.Errorf("unsupported file type: %s", s.fileType)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, flags, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(raw); err != nil {
		return err
	}
	return nil
}
