package draft

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var defaultFlowsYAML []byte

// Flow describes one authoring page type: its storage keys, the parent
// metadata it carries and the backend endpoint it commits to.
type Flow struct {
	Name           string   `yaml:"name"`
	MetadataKey    string   `yaml:"metadata_key"`
	QuestionsKey   string   `yaml:"questions_key"`
	MetadataFields []string `yaml:"metadata_fields"`
	RequiredFields []string `yaml:"required_fields"`
	Endpoint       string   `yaml:"endpoint"`
	SingleCorrect  bool     `yaml:"single_correct"`
}

func (f Flow) IdempotencyKey() string {
	return f.QuestionsKey + ":idempotency"
}

func (f Flow) DefaultMetadata() Metadata {
	md := make(Metadata, len(f.MetadataFields))
	for _, name := range f.MetadataFields {
		md[name] = ""
	}
	return md
}

func (f Flow) HasField(name string) bool {
	for _, v := range f.MetadataFields {
		if v == name {
			return true
		}
	}
	return false
}

// reservedPayloadFields are written by CommitPayload.MarshalMap next to the
// flattened metadata.
var reservedPayloadFields = map[string]bool{"questions": true, "by": true}

func (f Flow) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("flow name is required")
	}
	if f.MetadataKey == "" || f.QuestionsKey == "" {
		return fmt.Errorf("flow %s: storage keys are required", f.Name)
	}
	if f.MetadataKey == f.QuestionsKey {
		return fmt.Errorf("flow %s: metadata_key and questions_key must differ", f.Name)
	}
	if !strings.HasPrefix(f.Endpoint, "/") {
		return fmt.Errorf("flow %s: endpoint must start with /", f.Name)
	}
	for _, name := range f.MetadataFields {
		if reservedPayloadFields[name] {
			return fmt.Errorf("flow %s: metadata field %q is reserved in the commit body", f.Name, name)
		}
	}
	for _, req := range f.RequiredFields {
		if !f.HasField(req) {
			return fmt.Errorf("flow %s: required field %q is not a metadata field", f.Name, req)
		}
	}
	return nil
}

type Flows struct {
	byName map[string]Flow
}

type flowsFile struct {
	Flows []Flow `yaml:"flows"`
}

func ParseFlows(raw []byte) (*Flows, error) {
	var file flowsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse flows: %w", err)
	}
	if len(file.Flows) == 0 {
		return nil, fmt.Errorf("parse flows: no flows defined")
	}

	out := &Flows{byName: make(map[string]Flow, len(file.Flows))}
	keys := make(map[string]string)
	for _, f := range file.Flows {
		f.Name = strings.TrimSpace(strings.ToLower(f.Name))
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, dup := out.byName[f.Name]; dup {
			return nil, fmt.Errorf("flow %s defined twice", f.Name)
		}
		for _, k := range []string{f.MetadataKey, f.QuestionsKey} {
			if owner, taken := keys[k]; taken {
				return nil, fmt.Errorf("flow %s: storage key %q already used by %s", f.Name, k, owner)
			}
			keys[k] = f.Name
		}
		out.byName[f.Name] = f
	}
	return out, nil
}

// LoadFlows reads flows from path, or the embedded defaults when path is empty.
func LoadFlows(path string) (*Flows, error) {
	if strings.TrimSpace(path) == "" {
		return ParseFlows(defaultFlowsYAML)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flows file: %w", err)
	}
	return ParseFlows(raw)
}

func DefaultFlows() *Flows {
	f, err := ParseFlows(defaultFlowsYAML)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Flows) Lookup(name string) (Flow, error) {
	flow, ok := f.byName[strings.TrimSpace(strings.ToLower(name))]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
	return flow, nil
}

func (f *Flows) Names() []string {
	out := make([]string, 0, len(f.byName))
	for name := range f.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
