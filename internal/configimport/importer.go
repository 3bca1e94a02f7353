package configimport

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

const (
	actionCreated = "created"
	actionUpdated = "updated"
)

// Importer turns parsed server definitions into registry records. Servers
// are upserted by name: a name already in the registry gets its endpoint,
// headers, and auth patched; everything else is created.
type Importer struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewImporter creates an importer bound to a registry.
func NewImporter(reg *registry.Registry, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{registry: reg, logger: logger}
}

// ImportFile reads and imports a configuration file, detecting the format
// from the path when no hint is given.
func (im *Importer) ImportFile(path string, opts *ImportOptions) (*ImportResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if opts == nil {
		opts = &ImportOptions{}
	}
	if opts.FormatHint == "" || opts.FormatHint == FormatUnknown {
		format, err := DetectFormat(path, content)
		if err != nil {
			return nil, err
		}
		opts = &ImportOptions{FormatHint: format, DryRun: opts.DryRun}
	}

	return im.Import(content, opts)
}

// Import parses configuration content and upserts the servers it defines.
// Individual servers failing never aborts the batch; failures are collected
// in the result.
func (im *Importer) Import(content []byte, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	format := opts.FormatHint
	if format == "" || format == FormatUnknown {
		detected, err := DetectFormat("", content)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	parser := GetParser(format)
	if parser == nil {
		return nil, &ImportError{
			Type:    "unknown_format",
			Message: fmt.Sprintf("no parser available for format: %s", format),
		}
	}

	parsedServers, err := parser.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Format:            format,
		FormatDisplayName: format.String(),
		Imported:          []ImportedServer{},
		Skipped:           []SkippedServer{},
		Failed:            []FailedServer{},
		DryRun:            opts.DryRun,
	}

	for _, parsed := range parsedServers {
		for _, warning := range parsed.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", parsed.Name, warning))
		}

		if parsed.Disabled {
			result.Skipped = append(result.Skipped, SkippedServer{
				Name:   parsed.Name,
				Reason: "disabled_in_source",
			})
			continue
		}

		if err := ValidServerName(parsed.Name); err != nil {
			sanitized, _ := SanitizeServerName(parsed.Name)
			if sanitized == "" {
				result.Failed = append(result.Failed, FailedServer{
					Name:  parsed.Name,
					Error: err.Error(),
				})
				continue
			}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("server %q renamed to %q due to invalid characters", parsed.Name, sanitized))
			parsed.Name = sanitized
		}

		if parsed.Endpoint == "" {
			if parsed.Command != "" {
				im.logger.Info("Skipping stdio server, only remote endpoints can be managed",
					zap.String("name", parsed.Name),
					zap.String("command", parsed.Command))
				result.Skipped = append(result.Skipped, SkippedServer{
					Name:   parsed.Name,
					Reason: "stdio_not_supported",
				})
				continue
			}
			result.Failed = append(result.Failed, FailedServer{
				Name:  parsed.Name,
				Error: "missing endpoint",
			})
			continue
		}

		im.upsert(result, parsed, opts.DryRun)
	}

	result.Summary = summarize(len(parsedServers), result)

	im.logger.Info("Import finished",
		zap.String("format", string(format)),
		zap.Int("created", result.Summary.Created),
		zap.Int("updated", result.Summary.Updated),
		zap.Int("skipped", result.Summary.Skipped),
		zap.Int("failed", result.Summary.Failed),
		zap.Bool("dry_run", opts.DryRun))

	return result, nil
}

// upsert creates or patches one registry record.
func (im *Importer) upsert(result *ImportResult, parsed *ParsedServer, dryRun bool) {
	existing, err := im.registry.FindByName(parsed.Name)
	switch {
	case err == nil:
		im.update(result, existing, parsed, dryRun)
	case registry.IsNotFound(err):
		im.create(result, parsed, dryRun)
	default:
		result.Failed = append(result.Failed, FailedServer{Name: parsed.Name, Error: err.Error()})
	}
}

func (im *Importer) create(result *ImportResult, parsed *ParsedServer, dryRun bool) {
	if dryRun {
		result.Imported = append(result.Imported, ImportedServer{
			Name:     parsed.Name,
			Endpoint: parsed.Endpoint,
			Action:   actionCreated,
		})
		return
	}

	record, err := im.registry.Create(registry.CreateRequest{
		Name:        parsed.Name,
		Description: parsed.Description,
		Endpoint:    parsed.Endpoint,
		AuthKind:    parsed.AuthKind,
		Headers:     parsed.Headers,
	})
	if err != nil {
		result.Failed = append(result.Failed, FailedServer{Name: parsed.Name, Error: err.Error()})
		return
	}

	result.Imported = append(result.Imported, ImportedServer{
		ID:       record.ID,
		Name:     record.Name,
		Endpoint: record.Endpoint,
		Action:   actionCreated,
	})
}

func (im *Importer) update(result *ImportResult, existing *registry.ServerRecord, parsed *ParsedServer, dryRun bool) {
	if dryRun {
		result.Imported = append(result.Imported, ImportedServer{
			ID:       existing.ID,
			Name:     parsed.Name,
			Endpoint: parsed.Endpoint,
			Action:   actionUpdated,
		})
		return
	}

	patch := registry.UpdateRequest{Endpoint: &parsed.Endpoint}
	if parsed.Description != "" {
		patch.Description = &parsed.Description
	}
	if parsed.AuthKind != "" {
		patch.AuthKind = &parsed.AuthKind
	}
	if len(parsed.Headers) > 0 {
		patch.Headers = parsed.Headers
	}

	record, err := im.registry.Update(existing.ID, patch)
	if err != nil {
		result.Failed = append(result.Failed, FailedServer{Name: parsed.Name, Error: err.Error()})
		return
	}

	result.Imported = append(result.Imported, ImportedServer{
		ID:       record.ID,
		Name:     record.Name,
		Endpoint: record.Endpoint,
		Action:   actionUpdated,
	})
}

func summarize(total int, result *ImportResult) ImportSummary {
	summary := ImportSummary{
		Total:   total,
		Skipped: len(result.Skipped),
		Failed:  len(result.Failed),
	}
	for _, imported := range result.Imported {
		if imported.Action == actionCreated {
			summary.Created++
		} else {
			summary.Updated++
		}
	}
	return summary
}
