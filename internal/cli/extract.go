package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"fieldscan/internal/csvexport"
	"fieldscan/internal/domain"
	"fieldscan/internal/fielddef"
	"fieldscan/internal/port"
	"fieldscan/internal/service"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract fields from one page",
	Long: `Runs the field requests against a page batch by batch, printing one JSON
event per line. With --file the local image is uploaded under --page first.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

var (
	extractPage       string
	extractFile       string
	extractDocument   string
	extractPageIndex  int
	extractFields     string
	extractCSV        string
	extractStartBatch int
)

func init() {
	extractCmd.Flags().StringVarP(&extractPage, "page", "p", "", "Storage key of the page image")
	extractCmd.Flags().StringVar(&extractFile, "file", "", "Local page image to upload before extracting")
	extractCmd.Flags().StringVar(&extractDocument, "document", "", "Document id used in logs and export names")
	extractCmd.Flags().IntVar(&extractPageIndex, "page-index", 0, "Zero-based page index within the document")
	extractCmd.Flags().StringVarP(&extractFields, "fields", "f", "", "Field definitions (.xlsx or .json)")
	extractCmd.Flags().StringVar(&extractCSV, "csv", "", "Write extracted fields to this CSV file")
	extractCmd.Flags().IntVar(&extractStartBatch, "start-batch", 0, "Resume at this batch index")
	_ = extractCmd.MarkFlagRequired("page")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	if extractionService == nil {
		return errNotConfigured
	}

	requests := defaultFields
	if extractFields != "" {
		var err error
		if requests, err = fielddef.Load(extractFields); err != nil {
			return fmt.Errorf("failed to load field definitions: %w", err)
		}
	}
	if len(requests) == 0 {
		return fmt.Errorf("no field definitions: pass --fields or set FIELDSCAN_FIELDS_DEFINITIONS_PATH: %w", domain.ErrNoFieldRequests)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	page := domain.PageRef{DocumentID: extractDocument, PageIndex: extractPageIndex, Key: extractPage}
	if extractFile != "" {
		if err := uploadPage(ctx, page.Key, extractFile); err != nil {
			return err
		}
	}

	in := &service.ExtractInput{Page: page, Requests: requests, StartBatch: extractStartBatch}
	var run *service.ExtractionRun
	var err error
	if extractStartBatch > 0 {
		run, err = extractionService.Resume(ctx, in)
	} else {
		run, err = extractionService.Start(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("failed to start extraction: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	fields := append([]domain.ExtractedField(nil), run.Completed...)
	var failure *domain.BatchFailure
	for ev := range run.Events {
		switch {
		case ev.Progress != nil:
			fields = append(fields, ev.Progress.Fields...)
			if err := enc.Encode(map[string]any{"event": "progress", "data": ev.Progress}); err != nil {
				return err
			}
		case ev.Failure != nil:
			failure = ev.Failure
			fields = ev.Failure.FieldsSoFar
			if err := enc.Encode(map[string]any{"event": "failure", "data": ev.Failure, "error": ev.Failure.Err.Error()}); err != nil {
				return err
			}
		}
	}

	if extractCSV != "" {
		if err := writeCSV(extractCSV, fields); err != nil {
			return err
		}
		cmd.PrintErrf("Wrote %d fields to %s\n", len(fields), extractCSV)
	}
	if failure != nil {
		return fmt.Errorf("batch %d failed; rerun with --start-batch %d to resume: %w",
			failure.FailedBatchIndex, failure.FailedBatchIndex, failure.Err)
	}
	return nil
}

func uploadPage(ctx context.Context, key, path string) error {
	if pageStorage == nil {
		return fmt.Errorf("page storage not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open page image: %w", err)
	}
	defer f.Close()

	_, err = pageStorage.Upload(ctx, port.UploadInput{
		Key:         key,
		Body:        f,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload page image: %w", err)
	}
	return nil
}

func writeCSV(path string, fields []domain.ExtractedField) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	w := csvexport.NewWriter(f)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.WriteFields(fields); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return f.Close()
}
