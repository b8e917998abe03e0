package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docmeta/internal/app"
	"docmeta/internal/export"
	"docmeta/internal/service"
)

var runFlags struct {
	bucket     string
	prefix     string
	keys       []string
	docType    string
	model      string
	writeBack  bool
	exportPath string
	batchSize  int
	maxWorkers int
	timeout    time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract and validate metadata for a set of documents",
	Example: "  docmeta run --prefix inbox/ --write-back\n" +
		"  docmeta run --key invoices/a.pdf --key invoices/b.pdf --doc-type Invoice --export out.csv",
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.bucket, "bucket", "", "Bucket to read from (default DOCMETA_S3_BUCKET)")
	f.StringVar(&runFlags.prefix, "prefix", "", "Process every document under this prefix")
	f.StringArrayVar(&runFlags.keys, "key", nil, "Object key to process (repeatable)")
	f.StringVar(&runFlags.docType, "doc-type", "", "Document type; categorized per file when empty")
	f.StringVar(&runFlags.model, "model", "", "Model override for the AI provider")
	f.BoolVar(&runFlags.writeBack, "write-back", false, "Upload <key>.metadata.json next to each source")
	f.StringVar(&runFlags.exportPath, "export", "", "Write results to a .csv or .xlsx file")
	f.IntVar(&runFlags.batchSize, "batch-size", 0, "Override the configured batch size")
	f.IntVar(&runFlags.maxWorkers, "max-workers", 0, "Override the adaptive worker count")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "Per-batch timeout")

	runCmd.MarkFlagsMutuallyExclusive("prefix", "key")
	runCmd.MarkFlagsOneRequired("prefix", "key")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var format export.Format
	if runFlags.exportPath != "" {
		f, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(runFlags.exportPath), "."))
		if err != nil {
			return err
		}
		format = f
	}

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}

	run, err := a.Service.Run(ctx, &service.RunInput{
		Bucket:       runFlags.bucket,
		Keys:         runFlags.keys,
		Prefix:       runFlags.prefix,
		DocumentType: runFlags.docType,
		Model:        runFlags.model,
		WriteBack:    runFlags.writeBack,
		BatchSize:    runFlags.batchSize,
		MaxWorkers:   runFlags.maxWorkers,
		Timeout:      runFlags.timeout,
	})
	if err != nil {
		return err
	}

	printRun(cmd, run)

	if runFlags.exportPath != "" {
		if err := writeExport(runFlags.exportPath, run, format); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s\n", runFlags.exportPath)
	}
	return nil
}

func printRun(cmd *cobra.Command, run *service.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:     %s\n", run.ID)
	fmt.Fprintf(out, "Bucket:  %s\n", run.Bucket)
	fmt.Fprintf(out, "Status:  %s\n", run.Status)
	fmt.Fprintf(out, "Items:   %d total, %d completed, %d failed\n",
		run.Summary.Total, run.Summary.Completed, run.Summary.Failed)
	for _, item := range run.Items {
		if item.Evaluation == nil {
			fmt.Fprintf(out, "  %-40s %-9s %s\n", item.Key, item.Status, item.Error)
			continue
		}
		fmt.Fprintf(out, "  %-40s %-9s %s (%s)\n", item.Key, item.Status, item.DocumentType, item.Overall.Status)
	}
}

func writeExport(path string, run *service.Run, format export.Format) (err error) {
	f, err := os.Create(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return export.Write(f, run, format)
}
