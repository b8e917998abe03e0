package service

import (
	"net/http"
	"path"
	"strings"
	"time"

	"docmeta/internal/batch"
)

// MetadataSuffix is appended to a source key to name its metadata document.
const MetadataSuffix = ".metadata.json"

// RunContext carries the per-run settings every unit of work reads. It is
// built once per run and passed by value.
type RunContext struct {
	Bucket       string
	DocumentType string
	Model        string
	Categories   []string
	WriteBack    bool

	BatchSize  int
	MaxWorkers int
	Timeout    time.Duration
}

// categorize reports whether each item must be categorized before extraction.
func (rc RunContext) categorize() bool {
	return rc.DocumentType == "" && len(rc.Categories) > 0
}

func (rc RunContext) batchOptions() []batch.RunOption {
	var opts []batch.RunOption
	if rc.BatchSize > 0 {
		opts = append(opts, batch.WithBatchSize(rc.BatchSize))
	}
	if rc.MaxWorkers > 0 {
		opts = append(opts, batch.WithMaxWorkers(rc.MaxWorkers))
	}
	if rc.Timeout > 0 {
		opts = append(opts, batch.WithTimeout(rc.Timeout))
	}
	return opts
}

// MetadataKey returns the key the metadata document for key is written to.
func MetadataKey(key string) string {
	return key + MetadataSuffix
}

// isSourceKey filters listed keys down to documents worth processing.
func isSourceKey(key string) bool {
	return key != "" && !strings.HasSuffix(key, "/") && !strings.HasSuffix(key, MetadataSuffix)
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
}

// contentTypeFor resolves a file's content type from its extension, falling
// back to sniffing the leading bytes.
func contentTypeFor(key string, data []byte) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return sniffContentType(data)
}

// sniffContentType drops any parameters from the sniffed type, so
// "text/plain; charset=utf-8" becomes "text/plain".
func sniffContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
