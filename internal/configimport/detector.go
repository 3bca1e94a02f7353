package configimport

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned when the configuration format cannot be detected.
var ErrUnknownFormat = errors.New("unable to detect configuration format: supported formats are Claude-style JSON, Codex-style TOML, and YAML server lists")

// DetectFormat identifies the configuration format, first from the file
// extension, then by sniffing the content. The path may be empty for pasted
// content.
func DetectFormat(path string, content []byte) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatCodex, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatClaude, nil
	}

	return sniffFormat(content)
}

// sniffFormat decodes the content with each format's parser until one
// recognizes it. TOML goes first: a TOML document never decodes as JSON, and
// degrades to a meaningless scalar under YAML. JSON before YAML because YAML
// is a JSON superset.
func sniffFormat(content []byte) (ConfigFormat, error) {
	var tomlDoc map[string]interface{}
	if _, err := toml.Decode(string(content), &tomlDoc); err == nil {
		if _, ok := tomlDoc["mcp_servers"]; ok {
			return FormatCodex, nil
		}
	}

	var jsonDoc map[string]interface{}
	if err := json.Unmarshal(content, &jsonDoc); err == nil {
		if _, ok := jsonDoc["mcpServers"]; ok {
			return FormatClaude, nil
		}
	}

	var yamlList []interface{}
	if err := yaml.Unmarshal(content, &yamlList); err == nil && len(yamlList) > 0 {
		return FormatYAML, nil
	}

	return FormatUnknown, ErrUnknownFormat
}
