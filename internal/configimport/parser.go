package configimport

// Parser is the interface all format-specific parsers implement.
type Parser interface {
	// Parse extracts server definitions from raw configuration content.
	Parse(content []byte) ([]*ParsedServer, error)

	// Format returns the configuration format this parser handles.
	Format() ConfigFormat
}

// GetParser returns the parser for the given format, or nil.
func GetParser(format ConfigFormat) Parser {
	switch format {
	case FormatClaude:
		return &ClaudeParser{}
	case FormatCodex:
		return &CodexParser{}
	case FormatYAML:
		return &YAMLParser{}
	default:
		return nil
	}
}
