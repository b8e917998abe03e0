package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docmeta/internal/app"
	"docmeta/internal/domain"
	"docmeta/internal/validator"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the configured validation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document types that have rule sets",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <type>",
	Short: "Print the rule set for one document type",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesShow,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}

func loadRules(cmd *cobra.Command) (*validator.Loader, error) {
	storage, err := app.NewStorage(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	return app.NewRules(cmd.Context(), cfg, storage), nil
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	rules, err := loadRules(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Source: %s\n", rules.Source())
	for _, set := range rules.Document().DocumentTypes {
		fmt.Fprintf(out, "  %-24s %d fields, %d mandatory, %d cross-field\n",
			set.Name, len(set.Fields), len(set.MandatoryFields), len(set.CrossFieldRules))
	}
	return nil
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(cmd)
	if err != nil {
		return err
	}
	if !rules.Has(args[0]) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownDocumentType, args[0])
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rules.RulesFor(args[0]))
}
