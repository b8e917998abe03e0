package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docmeta/internal/app"
	"docmeta/internal/domain"
	"docmeta/internal/service"
)

var validateFlags struct {
	docType string
	file    string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an extracted-fields JSON file against the loaded rules",
	RunE:  runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateFlags.docType, "doc-type", "", "Document type whose rules apply (default rules when empty)")
	f.StringVar(&validateFlags.file, "file", "", "JSON object of extracted fields (required)")

	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(validateFlags.file)
	if err != nil {
		return fmt.Errorf("read extracted fields: %w", err)
	}
	extracted, err := domain.ParseExtracted(data)
	if err != nil {
		return err
	}

	storage, err := app.NewStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	svc := service.NewExtractionService(service.Dependencies{
		Rules:    app.NewRules(cmd.Context(), cfg, storage),
		Adjuster: app.NewAdjuster(cfg),
	})

	eval := svc.ValidateOnly(validateFlags.docType, extracted)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(eval)
}
