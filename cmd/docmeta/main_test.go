package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `{
  "document_types": [
    {
      "name": "Invoice",
      "fields": [{"key": "total", "rules": [{"type": "dataType", "params": {"expected": "float"}}]}],
      "mandatory_fields": ["total", "invoice_number"]
    },
    {"name": "Default", "fields": [], "mandatory_fields": []}
  ]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o600))
	t.Setenv("DOCMETA_VALIDATION_RULES_SOURCE", rulesPath)
	t.Setenv("DOCMETA_LOG_LEVEL", "error")
	t.Setenv("DOCMETA_S3_ACCESS_KEY", "test")
	t.Setenv("DOCMETA_S3_SECRET_KEY", "test")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRulesList(t *testing.T) {
	out, err := execute(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Invoice")
	assert.Contains(t, out, "2 mandatory")
}

func TestRulesShow(t *testing.T) {
	out, err := execute(t, "rules", "show", "Invoice")
	require.NoError(t, err)
	assert.Contains(t, out, `"invoice_number"`)

	_, err = execute(t, "rules", "show", "Receipt")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	fields := filepath.Join(t.TempDir(), "extracted.json")
	require.NoError(t, os.WriteFile(fields, []byte(`{"total": {"value": "abc", "confidence": 0.95}}`), 0o600))

	out, err := execute(t, "validate", "--doc-type", "Invoice", "--file", fields)
	require.NoError(t, err)

	var eval struct {
		DocumentType string `json:"document_type"`
		Validation   struct {
			MandatoryCheck struct {
				MissingFields []string `json:"missing_fields"`
			} `json:"mandatory_check"`
		} `json:"validation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Equal(t, "Invoice", eval.DocumentType)
	assert.Equal(t, []string{"invoice_number"}, eval.Validation.MandatoryCheck.MissingFields)
}

func TestValidate_RequiresFile(t *testing.T) {
	validateFlags.file = ""
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestRun_InterruptedBeforeFirstChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := executeContext(t, ctx, "run", "--key", "inbox/a.pdf", "--key", "inbox/b.pdf", "--doc-type", "Invoice")
	require.NoError(t, err)
	assert.Contains(t, out, "0 completed, 2 failed")
	assert.Contains(t, out, "processing stopped before the item was dispatched")
}
