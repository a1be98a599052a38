// Package cli implements the fieldscan operator command line.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"fieldscan/internal/app"
	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/logging"
	"fieldscan/internal/port"
	"fieldscan/internal/service"
)

// Services used by the commands. They are built from configuration before a
// command runs unless already set.
var (
	extractionService service.ExtractionService
	pageStorage       port.ObjectStorage
	defaultFields     []domain.FieldRequest
	closeApp          func() error
)

var errNotConfigured = errors.New("extraction service not configured")

var rootCmd = &cobra.Command{
	Use:           "fieldscan",
	Short:         "Extract fields from document pages",
	Long:          `Runs batched field extraction against page images and manages confirmed layout templates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if extractionService != nil {
			return nil
		}
		return setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if closeApp == nil {
			return nil
		}
		return closeApp()
	},
}

func setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.Log)
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	extractionService = a.Service
	pageStorage = a.Storage
	defaultFields = a.DefaultFields
	closeApp = a.Close
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
