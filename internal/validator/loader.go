package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"docmeta/internal/domain"
	"docmeta/internal/logger"
	"docmeta/internal/port"
)

// Loader holds the rule sets of one rule source, keyed by document type.
//
// Loading never fails: a missing, unreadable or malformed source logs a
// warning and leaves an empty rule map. Edits are applied in memory until
// Save is called.
type Loader struct {
	source  string
	storage port.ObjectStorage
	log     *zap.Logger

	mu    sync.RWMutex
	sets  map[string]*RuleSet
	order []string
}

// NewLoader creates a Loader and loads source, a local path or an
// s3://bucket/key URL. storage may be nil when only local paths are used.
func NewLoader(ctx context.Context, source string, storage port.ObjectStorage) *Loader {
	l := &Loader{
		source:  source,
		storage: storage,
		log:     logger.Named("rules"),
		sets:    make(map[string]*RuleSet),
	}
	_ = l.Reload(ctx)
	return l
}

// NewLoaderFromDocument creates a Loader over an in-memory document.
func NewLoaderFromDocument(doc RuleDocument) *Loader {
	l := &Loader{
		log:  logger.Named("rules"),
		sets: make(map[string]*RuleSet),
	}
	l.replace(doc)
	return l
}

// Source returns the configured rule source.
func (l *Loader) Source() string { return l.source }

// Reload re-reads the rule source. On failure the rule map is emptied, a
// warning is logged and the cause is returned for reporting.
func (l *Loader) Reload(ctx context.Context) error {
	doc, err := l.read(ctx)
	if err != nil {
		l.log.Warn("rule source unavailable, continuing with no rules",
			zap.String("source", l.source), zap.Error(err))
		l.replace(RuleDocument{})
		return err
	}
	l.replace(doc)
	l.log.Info("rules loaded",
		zap.String("source", l.source),
		zap.Int("document_types", len(doc.DocumentTypes)))
	return nil
}

func (l *Loader) read(ctx context.Context) (RuleDocument, error) {
	if l.source == "" {
		return RuleDocument{}, fmt.Errorf("no rule source configured")
	}
	data, err := l.fetch(ctx)
	if err != nil {
		return RuleDocument{}, err
	}
	return DecodeRuleDocument(data, l.source)
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	if bucket, key, ok := ParseS3URL(l.source); ok {
		if l.storage == nil {
			return nil, fmt.Errorf("%w: %s needs object storage", domain.ErrUnsupportedRuleSource, l.source)
		}
		data, err := l.storage.Download(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("fetching rules from %s: %w", l.source, err)
		}
		return data, nil
	}
	if strings.Contains(l.source, "://") {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedRuleSource, l.source)
	}
	data, err := os.ReadFile(l.source)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return data, nil
}

// DecodeRuleDocument decodes JSON or YAML. The name's extension decides;
// without one, content starting with '{' is treated as JSON.
func DecodeRuleDocument(data []byte, name string) (RuleDocument, error) {
	var doc RuleDocument
	useYAML := false
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		useYAML = true
	case ".json":
	default:
		useYAML = !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
	}

	if useYAML {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return RuleDocument{}, fmt.Errorf("decoding yaml rules: %w", err)
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return RuleDocument{}, fmt.Errorf("decoding json rules: %w", err)
	}

	for i, rs := range doc.DocumentTypes {
		if strings.TrimSpace(rs.Name) == "" {
			return RuleDocument{}, fmt.Errorf("document type %d has no name", i)
		}
	}
	return doc, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(src string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(src, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func (l *Loader) replace(doc RuleDocument) {
	sets := make(map[string]*RuleSet, len(doc.DocumentTypes))
	order := make([]string, 0, len(doc.DocumentTypes))
	for _, rs := range doc.DocumentTypes {
		rs := normalize(rs)
		if _, dup := sets[rs.Name]; !dup {
			order = append(order, rs.Name)
		}
		sets[rs.Name] = &rs
	}
	l.mu.Lock()
	l.sets = sets
	l.order = order
	l.mu.Unlock()
}

func normalize(rs RuleSet) RuleSet {
	if rs.Fields == nil {
		rs.Fields = []FieldRules{}
	}
	if rs.MandatoryFields == nil {
		rs.MandatoryFields = []string{}
	}
	if rs.CrossFieldRules == nil {
		rs.CrossFieldRules = []CrossFieldRule{}
	}
	return rs
}

// RulesFor returns the rule set for docType, else the "Default" rule set,
// else an empty one. The result is a copy.
func (l *Loader) RulesFor(docType string) RuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rs, ok := l.sets[docType]; ok {
		return rs.clone()
	}
	if rs, ok := l.sets[DefaultDocumentType]; ok {
		return rs.clone()
	}
	return EmptyRuleSet(docType)
}

// Has reports whether docType has its own rule set.
func (l *Loader) Has(docType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sets[docType]
	return ok
}

// DocumentTypes lists the configured document types in source order,
// excluding the "Default" fallback.
func (l *Loader) DocumentTypes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.order))
	for _, name := range l.order {
		if name != DefaultDocumentType {
			out = append(out, name)
		}
	}
	return out
}

// Document returns a copy of every rule set in source order.
func (l *Loader) Document() RuleDocument {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc := RuleDocument{DocumentTypes: make([]RuleSet, 0, len(l.order))}
	for _, name := range l.order {
		doc.DocumentTypes = append(doc.DocumentTypes, l.sets[name].clone())
	}
	return doc
}

// AddDocumentType adds an empty rule set.
func (l *Loader) AddDocumentType(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: document type name is required", domain.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sets[name]; ok {
		return fmt.Errorf("%w: document type %q already exists", domain.ErrInvalidInput, name)
	}
	rs := EmptyRuleSet(name)
	l.sets[name] = &rs
	l.order = append(l.order, name)
	return nil
}

// AddFieldRule appends rule to the field's rule group, creating the group if needed.
func (l *Loader) AddFieldRule(docType, fieldKey string, rule Rule) error {
	if fieldKey == "" || rule.Type == "" {
		return fmt.Errorf("%w: field key and rule type are required", domain.ErrInvalidInput)
	}
	return l.edit(docType, func(rs *RuleSet) {
		for i := range rs.Fields {
			if rs.Fields[i].Key == fieldKey {
				rs.Fields[i].Rules = append(rs.Fields[i].Rules, rule)
				return
			}
		}
		rs.Fields = append(rs.Fields, FieldRules{Key: fieldKey, Rules: []Rule{rule}})
	})
}

// AddMandatoryField marks fieldKey mandatory; adding it twice is a no-op.
func (l *Loader) AddMandatoryField(docType, fieldKey string) error {
	if fieldKey == "" {
		return fmt.Errorf("%w: field key is required", domain.ErrInvalidInput)
	}
	return l.edit(docType, func(rs *RuleSet) {
		if !slices.Contains(rs.MandatoryFields, fieldKey) {
			rs.MandatoryFields = append(rs.MandatoryFields, fieldKey)
		}
	})
}

// AddCrossFieldRule appends a cross-field rule.
func (l *Loader) AddCrossFieldRule(docType string, rule CrossFieldRule) error {
	if rule.Type == "" {
		return fmt.Errorf("%w: cross-field rule type is required", domain.ErrInvalidInput)
	}
	return l.edit(docType, func(rs *RuleSet) {
		rs.CrossFieldRules = append(rs.CrossFieldRules, rule)
	})
}

// RemoveFieldRules drops every rule group for fieldKey.
func (l *Loader) RemoveFieldRules(docType, fieldKey string) error {
	return l.edit(docType, func(rs *RuleSet) {
		rs.Fields = slices.DeleteFunc(rs.Fields, func(f FieldRules) bool { return f.Key == fieldKey })
	})
}

func (l *Loader) edit(docType string, fn func(*RuleSet)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rs, ok := l.sets[docType]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownDocumentType, docType)
	}
	fn(rs)
	return nil
}

// Save writes the rule sets as JSON to dest, or to the loaded source when
// dest is empty.
func (l *Loader) Save(ctx context.Context, dest string) error {
	if dest == "" {
		dest = l.source
	}
	if dest == "" {
		return fmt.Errorf("%w: no destination for rules", domain.ErrInvalidInput)
	}
	data, err := json.MarshalIndent(l.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	data = append(data, '\n')

	if bucket, key, ok := ParseS3URL(dest); ok {
		if l.storage == nil {
			return fmt.Errorf("%w: %s needs object storage", domain.ErrUnsupportedRuleSource, dest)
		}
		if _, err := l.storage.Upload(ctx, port.UploadInput{
			Bucket:      bucket,
			Key:         key,
			Body:        bytes.NewReader(data),
			ContentType: "application/json",
			Size:        int64(len(data)),
		}); err != nil {
			return fmt.Errorf("uploading rules: %w", err)
		}
	} else if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}

	l.log.Info("rules saved", zap.String("destination", dest))
	return nil
}
