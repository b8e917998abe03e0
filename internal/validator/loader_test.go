package validator_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docmeta/internal/domain"
	"docmeta/internal/port"
	"docmeta/internal/validator"
	"docmeta/mocks"
)

const sampleRules = `{
  "document_types": [
    {
      "name": "Invoices",
      "fields": [
        {"key": "invoice_number", "rules": [{"type": "regex", "pattern": "^INV-", "message": "bad number"}]}
      ],
      "mandatory_fields": ["invoice_number"],
      "cross_field_rules": [
        {"type": "date_order", "name": "dates", "date_a_key": "issued", "date_b_key": "due", "format": "%Y-%m-%d"}
      ]
    },
    {"name": "Default", "mandatory_fields": ["title"]}
  ]
}`

const sampleYAML = `document_types:
  - name: Contracts
    fields:
      - key: term_months
        rules:
          - type: dataType
            params:
              expected: integer
          - type: enum
            params:
              values: [12, 24, 36]
    mandatory_fields: [party_a]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_LoadsJSON(t *testing.T) {
	l := validator.NewLoader(context.Background(), writeFile(t, "rules.json", sampleRules), nil)

	assert.Equal(t, []string{"Invoices"}, l.DocumentTypes())
	rs := l.RulesFor("Invoices")
	assert.Equal(t, "Invoices", rs.Name)
	require.Len(t, rs.RulesForField("invoice_number"), 1)
	assert.Equal(t, []string{"invoice_number"}, rs.MandatoryFields)
	require.Len(t, rs.CrossFieldRules, 1)
	assert.Equal(t, "issued", rs.CrossFieldRules[0].DateAKey)
}

func TestLoader_LoadsYAML(t *testing.T) {
	l := validator.NewLoader(context.Background(), writeFile(t, "rules.yaml", sampleYAML), nil)

	rs := l.RulesFor("Contracts")
	require.Len(t, rs.RulesForField("term_months"), 2)
	assert.Equal(t, []string{"term_months", "party_a"}, rs.FieldKeys())

	out := validator.New(nil).Validate(fields(t, `{"term_months": "24", "party_a": "ACME"}`), rs, "Contracts")
	assert.True(t, out.FieldValidations["term_months"].IsValid, out.FieldValidations["term_months"].Messages)
}

func TestLoader_RulesForFallback(t *testing.T) {
	l := validator.NewLoader(context.Background(), writeFile(t, "rules.json", sampleRules), nil)

	assert.Equal(t, "Default", l.RulesFor("Receipts").Name)
	assert.Equal(t, []string{"title"}, l.RulesFor("Receipts").MandatoryFields)

	empty := validator.NewLoaderFromDocument(validator.RuleDocument{})
	rs := empty.RulesFor("Receipts")
	assert.NotNil(t, rs.Fields)
	assert.Empty(t, rs.Fields)
	assert.Empty(t, rs.MandatoryFields)
	assert.Empty(t, rs.CrossFieldRules)
}

func TestLoader_FailuresDegradeToEmpty(t *testing.T) {
	tests := map[string]string{
		"missing file":       filepath.Join(t.TempDir(), "absent.json"),
		"malformed json":     writeFile(t, "bad.json", `{"document_types": [`),
		"unnamed type":       writeFile(t, "unnamed.json", `{"document_types": [{"fields": []}]}`),
		"unsupported scheme": "gs://bucket/rules.json",
		"s3 without storage": "s3://bucket/rules.json",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			l := validator.NewLoader(context.Background(), src, nil)
			assert.Empty(t, l.DocumentTypes())
			assert.Empty(t, l.RulesFor("Invoices").Fields)
			assert.Error(t, l.Reload(context.Background()))
		})
	}
}

func TestLoader_S3Source(t *testing.T) {
	store := new(mocks.MockObjectStorage)
	store.On("Download", mock.Anything, "rules-bucket", "config/rules.json").Return([]byte(sampleRules), nil).Once()

	l := validator.NewLoader(context.Background(), "s3://rules-bucket/config/rules.json", store)
	assert.Equal(t, []string{"Invoices"}, l.DocumentTypes())

	store.On("Download", mock.Anything, "rules-bucket", "config/rules.json").Return(nil, errors.New("access denied")).Once()
	err := l.Reload(context.Background())
	assert.ErrorContains(t, err, "access denied")
	assert.Empty(t, l.DocumentTypes())
	store.AssertExpectations(t)
}

func TestLoader_EditsAndRoundTrip(t *testing.T) {
	path := writeFile(t, "rules.json", sampleRules)
	l := validator.NewLoader(context.Background(), path, nil)

	require.NoError(t, l.AddDocumentType("Receipts"))
	assert.ErrorIs(t, l.AddDocumentType("Receipts"), domain.ErrInvalidInput)

	require.NoError(t, l.AddFieldRule("Receipts", "total", validator.Rule{Type: "dataType", Params: map[string]any{"expected": "float"}}))
	require.NoError(t, l.AddFieldRule("Receipts", "total", validator.Rule{Type: "minLength", Params: map[string]any{"value": 1}}))
	require.NoError(t, l.AddMandatoryField("Receipts", "total"))
	require.NoError(t, l.AddMandatoryField("Receipts", "total"))
	require.NoError(t, l.AddCrossFieldRule("Receipts", validator.CrossFieldRule{Type: "date_order", DateAKey: "a", DateBKey: "b"}))
	require.NoError(t, l.RemoveFieldRules("Invoices", "invoice_number"))

	assert.ErrorIs(t, l.AddFieldRule("Nope", "x", validator.Rule{Type: "regex"}), domain.ErrUnknownDocumentType)
	assert.ErrorIs(t, l.AddFieldRule("Receipts", "", validator.Rule{Type: "regex"}), domain.ErrInvalidInput)

	require.NoError(t, l.Save(context.Background(), ""))
	reloaded := validator.NewLoader(context.Background(), path, nil)

	assert.Equal(t, []string{"Invoices", "Receipts"}, reloaded.DocumentTypes())
	receipts := reloaded.RulesFor("Receipts")
	assert.Len(t, receipts.RulesForField("total"), 2)
	assert.Equal(t, []string{"total"}, receipts.MandatoryFields)
	assert.Len(t, receipts.CrossFieldRules, 1)
	assert.Empty(t, reloaded.RulesFor("Invoices").RulesForField("invoice_number"))
}

func TestLoader_RulesForReturnsCopy(t *testing.T) {
	l := validator.NewLoader(context.Background(), writeFile(t, "rules.json", sampleRules), nil)
	rs := l.RulesFor("Invoices")
	rs.MandatoryFields[0] = "changed"
	rs.Fields[0].Rules[0].Pattern = "changed"

	fresh := l.RulesFor("Invoices")
	assert.Equal(t, "invoice_number", fresh.MandatoryFields[0])
	assert.Equal(t, "^INV-", fresh.Fields[0].Rules[0].Pattern)
}

func TestLoader_SaveToS3(t *testing.T) {
	store := new(mocks.MockObjectStorage)
	l := validator.NewLoaderFromDocument(validator.RuleDocument{DocumentTypes: []validator.RuleSet{{Name: "Invoices"}}})
	l2 := validator.NewLoader(context.Background(), "", store)

	var body []byte
	store.On("Upload", mock.Anything, mock.MatchedBy(func(in port.UploadInput) bool {
		return in.Bucket == "b" && in.Key == "rules.json" && in.ContentType == "application/json"
	})).Run(func(args mock.Arguments) {
		body, _ = io.ReadAll(args.Get(1).(port.UploadInput).Body)
	}).Return(&port.UploadOutput{}, nil).Once()

	assert.Error(t, l.Save(context.Background(), "s3://b/rules.json"), "no storage attached")
	require.NoError(t, l2.AddDocumentType("Invoices"))
	require.NoError(t, l2.Save(context.Background(), "s3://b/rules.json"))

	doc, err := validator.DecodeRuleDocument(body, "rules.json")
	require.NoError(t, err)
	require.Len(t, doc.DocumentTypes, 1)
	assert.Equal(t, "Invoices", doc.DocumentTypes[0].Name)
	store.AssertExpectations(t)
}

func TestParseS3URL(t *testing.T) {
	b, k, ok := validator.ParseS3URL("s3://bucket/a/b.json")
	assert.True(t, ok)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "a/b.json", k)

	for _, bad := range []string{"bucket/key", "s3://bucket", "s3:///key", "s3://bucket/"} {
		_, _, ok := validator.ParseS3URL(bad)
		assert.False(t, ok, bad)
	}
}
