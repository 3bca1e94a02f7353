package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpdock-go/internal/config"
	"mcpdock-go/internal/configimport"
	"mcpdock-go/internal/logs"
	"mcpdock-go/internal/registry"
)

var (
	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Import servers from an MCP client configuration file",
		Long: `Import remote server definitions from an existing MCP client configuration
into the registry. Supported formats: Claude-style JSON (mcpServers object),
Codex-style TOML ([mcp_servers.*] tables), and plain YAML server lists. The
format is detected from the file extension and content unless --format names
one.

Servers are upserted by name; stdio servers are skipped because only remote
endpoints can be managed.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	importFormat string
	importDryRun bool
)

// GetImportCommand returns the import command for adding to the root command
func GetImportCommand() *cobra.Command {
	return importCmd
}

func init() {
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Source format (claude, codex, yaml; default: auto-detect)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and report without writing to the registry")

	importCmd.Example = `  # Import a Claude Desktop configuration
  mcpdock import ~/Library/Application\ Support/Claude/claude_desktop_config.json

  # Import a Codex config, forcing the format
  mcpdock import ~/.codex/config.toml --format=codex

  # See what an import would do first
  mcpdock import servers.yaml --dry-run`
}

func runImport(_ *cobra.Command, args []string) error {
	opts := &configimport.ImportOptions{DryRun: importDryRun}
	if importFormat != "" {
		format, ok := configimport.ParseFormat(importFormat)
		if !ok {
			return fmt.Errorf("unsupported format %q: use claude, codex, or yaml", importFormat)
		}
		opts.FormatHint = format
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logs.SetupCommandLogger(false, logLevel, false, "")
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Open without lock recovery: if the daemon holds the database, fail
	// fast and tell the user to import over its API instead.
	db, err := registry.OpenBoltDB(cfg.DataDir, 2*time.Second, logger.Sugar())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	reg, err := registry.NewRegistry(db, logger.Sugar())
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	importer := configimport.NewImporter(reg, logger)
	result, err := importer.ImportFile(args[0], opts)
	if err != nil {
		return err
	}

	printImportResult(cfg, result)

	if result.Summary.Failed > 0 {
		return fmt.Errorf("%d server(s) failed to import", result.Summary.Failed)
	}
	return nil
}

func printImportResult(cfg *config.Config, result *configimport.ImportResult) {
	if result.DryRun {
		fmt.Printf("Dry run: no changes written (format: %s)\n", result.FormatDisplayName)
	} else {
		fmt.Printf("Imported from %s\n", result.FormatDisplayName)
	}

	for _, server := range result.Imported {
		fmt.Printf("  %-8s %s -> %s\n", server.Action, server.Name, server.Endpoint)
	}
	for _, server := range result.Skipped {
		fmt.Printf("  skipped  %s (%s)\n", server.Name, server.Reason)
	}
	for _, server := range result.Failed {
		fmt.Printf("  failed   %s: %s\n", server.Name, server.Error)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}

	fmt.Printf("Total: %d created, %d updated, %d skipped, %d failed\n",
		result.Summary.Created, result.Summary.Updated,
		result.Summary.Skipped, result.Summary.Failed)

	if !result.DryRun && result.Summary.Created+result.Summary.Updated > 0 {
		fmt.Printf("Servers land in the Created state; connect them via the API on %s\n", cfg.Listen)
	}
}
