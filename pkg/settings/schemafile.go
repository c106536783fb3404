package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type schemaFile struct {
	Settings []fileDefinition `yaml:"settings"`
}

type fileDefinition struct {
	Name        string     `yaml:"name"`
	Kind        string     `yaml:"kind"`
	Default     yaml.Node  `yaml:"default"`
	Validation  Validation `yaml:"validation"`
	Secret      bool       `yaml:"secret"`
	Group       string     `yaml:"group"`
	Description string     `yaml:"description"`
	Order       *int       `yaml:"order"`
}

// LoadSchemaFile reads a YAML schema declaration.
func LoadSchemaFile(path string) (Schema, error) {
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseSchemaYAML(data)
}

func ParseSchemaYAML(data []byte) (Schema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	schema := make(Schema, 0, len(file.Settings))
	for i, fd := range file.Settings {
		kind, err := ParseKind(fd.Kind)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", fd.Name, err)
		}
		def, err := decodeDefault(kind, &fd.Default)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", fd.Name, err)
		}
		order := i
		if fd.Order != nil {
			order = *fd.Order
		}
		schema = append(schema, Definition{
			Name:         fd.Name,
			Kind:         kind,
			Default:      def,
			Validation:   fd.Validation,
			Secret:       fd.Secret,
			Group:        fd.Group,
			Description:  fd.Description,
			DisplayOrder: order,
		})
	}

	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func decodeDefault(kind Kind, node *yaml.Node) (Value, error) {
	switch node.Kind {
	case 0:
		return Value{}, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return Value{}, nil
		}
		return Parse(kind, node.Value)
	default:
		var decoded any
		if err := node.Decode(&decoded); err != nil {
			return Value{}, err
		}
		raw, err := json.Marshal(decoded)
		if err != nil {
			return Value{}, err
		}
		return Parse(kind, string(raw))
	}
}
