package domain

import "errors"

var (
	ErrNotFound              = errors.New("resource not found")
	ErrRunNotFound           = errors.New("run not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNoItems               = errors.New("no documents to process")
	ErrUnknownDocumentType   = errors.New("unknown document type")
	ErrInvalidExtraction     = errors.New("extraction payload is not a JSON object")
	ErrUnsupportedExport     = errors.New("unsupported export format")
	ErrUnsupportedRuleSource = errors.New("unsupported rule source")
)
