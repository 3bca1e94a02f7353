package configimport

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLServerEntry is one entry in a plain YAML server list. The field set
// mirrors the registry's create request, so a list exported from one
// instance imports cleanly into another.
type YAMLServerEntry struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Endpoint    string            `yaml:"endpoint"`
	URL         string            `yaml:"url,omitempty"` // accepted alias for endpoint
	Auth        string            `yaml:"auth,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty"`
}

// YAMLParser parses plain YAML server lists.
type YAMLParser struct{}

// Format returns the configuration format this parser handles.
func (p *YAMLParser) Format() ConfigFormat {
	return FormatYAML
}

// Parse parses a YAML list of server entries.
func (p *YAMLParser) Parse(content []byte) ([]*ParsedServer, error) {
	var entries []YAMLServerEntry
	if err := yaml.Unmarshal(content, &entries); err != nil {
		return nil, &ImportError{
			Type:    "parse_error",
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}

	if len(entries) == 0 {
		return nil, &ImportError{
			Type:    "no_servers",
			Message: "no MCP servers found (looking for a YAML list of server entries)",
		}
	}

	servers := make([]*ParsedServer, 0, len(entries))
	for _, entry := range entries {
		endpoint := entry.Endpoint
		if endpoint == "" {
			endpoint = entry.URL
		}

		servers = append(servers, &ParsedServer{
			Name:         entry.Name,
			Description:  entry.Description,
			Endpoint:     endpoint,
			Headers:      entry.Headers,
			AuthKind:     entry.Auth,
			Disabled:     entry.Disabled,
			SourceFormat: FormatYAML,
		})
	}

	return servers, nil
}
