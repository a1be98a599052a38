package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldscan/internal/templatefile"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage confirmed layout templates",
	Long:  `List, import, or export the templates used to bias extraction on known layouts.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

var templatesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import templates from a JSON file",
	Long:  `Reads a JSON array of template records. Invalid or already stored records are reported and skipped.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesImport,
}

var templatesExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all templates to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesExport,
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesImportCmd)
	templatesCmd.AddCommand(templatesExportCmd)
	rootCmd.AddCommand(templatesCmd)
}

func runTemplatesList(cmd *cobra.Command, _ []string) error {
	if extractionService == nil {
		return errNotConfigured
	}

	templates, err := extractionService.ListTemplates(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	if len(templates) == 0 {
		cmd.Println("No templates stored")
		return nil
	}

	for i := range templates {
		t := &templates[i]
		cmd.Printf("  %s\n", t.ID)
		cmd.Printf("    Vendor: %s\n", t.VendorSignature)
		cmd.Printf("    Fields: %d\n", len(t.Fields))
		cmd.Printf("    Created: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	cmd.Printf("\nTotal: %d templates\n", len(templates))
	return nil
}

func runTemplatesImport(cmd *cobra.Command, args []string) error {
	if extractionService == nil {
		return errNotConfigured
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open template file: %w", err)
	}
	defer f.Close()

	res, err := extractionService.ImportTemplates(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to import templates: %w", err)
	}
	for _, r := range res.Rejected {
		cmd.PrintErrf("skipped %v\n", r)
	}
	cmd.Printf("Imported %d templates, skipped %d\n", res.Imported, len(res.Rejected))
	return nil
}

func runTemplatesExport(cmd *cobra.Command, args []string) error {
	if extractionService == nil {
		return errNotConfigured
	}

	templates, err := extractionService.ListTemplates(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := templatefile.Encode(f, templates); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	cmd.Printf("Exported %d templates to %s\n", len(templates), args[0])
	return nil
}
