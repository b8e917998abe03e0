package export

import (
	"encoding/csv"
	"io"

	"docmeta/internal/service"
)

// BOM is the UTF-8 byte order mark, written first for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes run as BOM-prefixed CSV.
func WriteCSV(w io.Writer, run *service.Run) error {
	if _, err := w.Write(BOM); err != nil {
		return err
	}
	table := BuildTable(run)

	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(table.Rows); err != nil {
		return err
	}
	return cw.Error()
}
