package retrieval

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/executor"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// Document types recorded in metadata["type"].
const (
	TypeSchema       = "schema"
	TypeJoinPattern  = "join_pattern"
	TypeBusinessRule = "business_rule"
	TypeExample      = "example"
)

// SchemaSource supplies the database shape to index.
type SchemaSource interface {
	Introspect(ctx context.Context) (*executor.SchemaInfo, error)
}

// IndexReport counts the documents written by one Index call.
type IndexReport struct {
	Tables    int `json:"tables"`
	Joins     int `json:"joins"`
	Knowledge int `json:"knowledge"`
}

// Total is the number of documents written.
func (r IndexReport) Total() int {
	return r.Tables + r.Joins + r.Knowledge
}

// Indexer turns the database schema and curated knowledge into documents.
type Indexer struct {
	source SchemaSource
	store  Store
	logger *zap.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(source SchemaSource, store Store, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{source: source, store: store, logger: logger}
}

// Index introspects the schema and adds one document per table, one per
// related table pair, and every knowledge document.
func (ix *Indexer) Index(ctx context.Context, knowledge []Document) (IndexReport, error) {
	info, err := ix.source.Introspect(ctx)
	if err != nil {
		return IndexReport{}, fmt.Errorf("introspecting schema: %w", err)
	}

	tables := TableDocuments(info)
	joins := JoinDocuments(info)

	docs := make([]Document, 0, len(tables)+len(joins)+len(knowledge))
	docs = append(docs, tables...)
	docs = append(docs, joins...)
	docs = append(docs, knowledge...)

	if err := ix.store.Add(ctx, docs); err != nil {
		return IndexReport{}, fmt.Errorf("adding documents: %w", err)
	}

	report := IndexReport{Tables: len(tables), Joins: len(joins), Knowledge: len(knowledge)}
	ix.logger.Info("indexed schema knowledge",
		zap.Int("tables", report.Tables),
		zap.Int("joins", report.Joins),
		zap.Int("knowledge", report.Knowledge))
	return report, nil
}

// TableDocuments renders one document per table.
func TableDocuments(info *executor.SchemaInfo) []Document {
	docs := make([]Document, 0, len(info.Tables))
	for _, t := range info.Tables {
		pk := make(map[string]bool, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			pk[c] = true
		}

		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			marker := ""
			if pk[c.Name] {
				marker = "PK"
			}
			cols[i] = fmt.Sprintf("%s (%s%s)", c.Name, c.Type, marker)
		}

		pkText := "None"
		if len(t.PrimaryKey) > 0 {
			pkText = strings.Join(t.PrimaryKey, ", ")
		}

		docs = append(docs, Document{
			ID: "table_" + t.Name,
			Text: fmt.Sprintf("Table: %s\nColumns: %s\nPrimary Key: %s\nDescription: Database table for %s",
				t.Name, strings.Join(cols, ", "), pkText, strings.ReplaceAll(t.Name, "_", " ")),
			Metadata: map[string]string{
				"type":  TypeSchema,
				"table": t.Name,
				"pk":    strings.Join(t.PrimaryKey, ","),
			},
		})
	}
	return docs
}

// JoinDocuments renders one document per (from, to) table pair, using the
// first foreign key seen for that pair.
func JoinDocuments(info *executor.SchemaInfo) []Document {
	var docs []Document
	seen := make(map[string]bool)
	for _, fk := range info.ForeignKeys {
		key := fk.FromTable + "_" + fk.ToTable
		if seen[key] {
			continue
		}
		seen[key] = true

		on := fmt.Sprintf("%s.%s = %s.%s", fk.FromTable, fk.FromColumn, fk.ToTable, fk.ToColumn)
		docs = append(docs, Document{
			ID: "join_" + key,
			Text: fmt.Sprintf("JOIN Pattern: %s → %s\nRelationship: %s\nSQL Example: JOIN %s ON %s",
				fk.FromTable, fk.ToTable, on, fk.ToTable, on),
			Metadata: map[string]string{
				"type":        TypeJoinPattern,
				"from_table":  fk.FromTable,
				"to_table":    fk.ToTable,
				"from_column": fk.FromColumn,
				"to_column":   fk.ToColumn,
			},
		})
	}
	return docs
}

// knowledgeFile is the YAML layout of a knowledge file:
//
//	business_rules:
//	  - id: rule_revenue
//	    text: "Business Rule: ..."
//	    metadata: {topic: revenue}
//	examples:
//	  - id: example_top_customers
//	    text: "Example Query: ...\nSQL:\nSELECT ..."
type knowledgeFile struct {
	BusinessRules []Document `koanf:"business_rules"`
	Examples      []Document `koanf:"examples"`
}

// LoadKnowledge reads business rules and few-shot examples from a YAML file.
// Documents get their metadata type set from the list they appear in.
func LoadKnowledge(path string) ([]Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing knowledge file %s: %w", path, err)
	}

	var kf knowledgeFile
	if err := k.Unmarshal("", &kf); err != nil {
		return nil, fmt.Errorf("decoding knowledge file %s: %w", path, err)
	}

	var docs []Document
	for _, group := range []struct {
		kind string
		docs []Document
	}{
		{TypeBusinessRule, kf.BusinessRules},
		{TypeExample, kf.Examples},
	} {
		for i, d := range group.docs {
			if strings.TrimSpace(d.Text) == "" {
				return nil, fmt.Errorf("%s[%d]: text required", group.kind, i)
			}
			if d.ID == "" {
				d.ID = fmt.Sprintf("%s_%d", group.kind, i+1)
			}
			meta := make(map[string]string, len(d.Metadata)+1)
			for mk, mv := range d.Metadata {
				meta[mk] = mv
			}
			meta["type"] = group.kind
			d.Metadata = meta
			docs = append(docs, d)
		}
	}
	return docs, nil
}
