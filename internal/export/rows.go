// Package export renders a run's results as CSV or XLSX.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"docmeta/internal/domain"
	"docmeta/internal/service"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" (the default when empty) and "xlsx".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedExport, s)
	}
}

// ContentType returns the MIME type served for format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Write renders run in format.
func Write(w io.Writer, run *service.Run, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, run)
	case FormatXLSX:
		return WriteXLSX(w, run)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedExport, format)
	}
}

// baseColumns precede one value column and one confidence column per field.
var baseColumns = []string{
	"Key",
	"Document Type",
	"Status",
	"Overall Confidence",
	"Model",
	"Error",
}

// Table is a run flattened to a header and rows of equal width.
type Table struct {
	Header []string
	Rows   [][]string
}

// BuildTable flattens run. Field columns follow the order of Run.FieldKeys.
func BuildTable(run *service.Run) Table {
	fields := run.FieldKeys()

	header := make([]string, 0, len(baseColumns)+2*len(fields))
	header = append(header, baseColumns...)
	for _, f := range fields {
		header = append(header, f, f+" (confidence)")
	}

	rows := make([][]string, 0, len(run.Items))
	for _, item := range run.Items {
		rows = append(rows, itemToRow(item, fields, len(header)))
	}
	return Table{Header: header, Rows: rows}
}

// itemToRow fills the base columns for every item; field columns only when
// the item was evaluated.
func itemToRow(item service.ItemResult, fields []string, width int) []string {
	row := make([]string, width)
	row[0] = item.Key
	row[2] = string(item.Status)
	row[4] = item.ModelUsed
	row[5] = item.Error

	if item.Evaluation == nil {
		return row
	}
	row[1] = item.DocumentType
	row[3] = string(item.Overall.Status)

	col := len(baseColumns)
	for _, f := range fields {
		if v, ok := item.Fields[f]; ok {
			row[col] = v.String()
		}
		if rec, ok := item.Confidence[f]; ok {
			row[col+1] = string(rec.AdjustedLevel)
		}
		col += 2
	}
	return row
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename replaces non-alphanumeric chars (except - _) with _,
// collapses consecutive underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildFilename returns a sanitized filename for the Content-Disposition header.
// Format: run_{id}_{YYYY-MM-DD}.{ext}
func BuildFilename(run *service.Run, format Format) string {
	date := run.StartedAt.Format(time.DateOnly)
	return fmt.Sprintf("%s_%s.%s", SanitizeFilename("run_"+run.ID.String()), date, format)
}
