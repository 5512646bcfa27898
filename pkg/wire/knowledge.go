package wire

import (
	"encoding/json"
	"fmt"
)

// Shape identifies which payload layout a knowledge-base result arrived in.
// The service emits a pre-shaped display record on some paths and the raw
// backend structure on others; the exact raw contract is pinned down here in
// one place so the rest of the client only ever sees [KnowledgeResult].
type Shape int

const (
	// ShapeFormatted is the pre-shaped display record: title, content,
	// source, metadata.
	ShapeFormatted Shape = iota
	// ShapeError is a failed lookup: status plus a message.
	ShapeError
	// ShapeDocument is a single document retrieval keyed by document_id.
	ShapeDocument
	// ShapeSearch is a keyword search: keywords plus a results list using
	// content_snippet fields.
	ShapeSearch
	// ShapeQuery is a semantic query: query plus a results list using
	// content fields.
	ShapeQuery
)

var shapeNames = map[Shape]string{
	ShapeFormatted: "formatted",
	ShapeError:     "error",
	ShapeDocument:  "document",
	ShapeSearch:    "search",
	ShapeQuery:     "query",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return "invalid"
}

// KnowledgeRecord is one canonical result entry.
type KnowledgeRecord struct {
	Content string
	Source  string
	Score   float64
}

// KnowledgeResult is the single canonical record every knowledge-base
// payload shape normalizes to before reaching the message router.
type KnowledgeResult struct {
	Title    string
	Content  string
	Records  []KnowledgeRecord
	Source   string
	Metadata map[string]any
	Err      string
	Shape    Shape
}

// rawKnowledge is the superset of every observed payload layout. Which
// fields are populated discriminates the shape.
type rawKnowledge struct {
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	DocumentID string          `json:"document_id"`
	Keywords   string          `json:"keywords"`
	Query      string          `json:"query"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content"`
	Source     string          `json:"source"`
	Metadata   map[string]any  `json:"metadata"`
	Results    []rawRecord     `json:"results"`
}

type rawRecord struct {
	Content        string  `json:"content"`
	ContentSnippet string  `json:"content_snippet"`
	Source         string  `json:"source"`
	Score          float64 `json:"score"`
}

// NormalizeKnowledge parses the embedded JSON payload of a knowledge_base
// frame and folds whichever shape it arrived in into the canonical record.
// An error means the payload was not valid JSON at all; shape ambiguity is
// resolved, never reported.
func NormalizeKnowledge(data string) (KnowledgeResult, error) {
	var raw rawKnowledge
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return KnowledgeResult{}, fmt.Errorf("wire: knowledge payload: %w", err)
	}

	switch {
	case raw.Status == "error":
		msg := raw.Message
		if msg == "" {
			msg = "knowledge base lookup failed"
		}
		return KnowledgeResult{
			Title:    "Error",
			Err:      msg,
			Metadata: raw.Metadata,
			Shape:    ShapeError,
		}, nil

	case raw.DocumentID != "":
		return KnowledgeResult{
			Title:    "Document: " + raw.DocumentID,
			Content:  scalarContent(raw.Content),
			Source:   raw.Source,
			Metadata: raw.Metadata,
			Shape:    ShapeDocument,
		}, nil

	case raw.Keywords != "":
		return KnowledgeResult{
			Title:    "Search Results for: " + raw.Keywords,
			Records:  normalizeRecords(raw.Results),
			Metadata: raw.Metadata,
			Shape:    ShapeSearch,
		}, nil

	case raw.Query != "":
		return KnowledgeResult{
			Title:    "Knowledge Base Results for: " + raw.Query,
			Records:  normalizeRecords(raw.Results),
			Metadata: raw.Metadata,
			Shape:    ShapeQuery,
		}, nil

	default:
		// Pre-shaped record. Its content field is a string on the error and
		// document paths and a record list on the search paths.
		res := KnowledgeResult{
			Title:    raw.Title,
			Source:   raw.Source,
			Metadata: raw.Metadata,
			Shape:    ShapeFormatted,
		}
		var records []rawRecord
		if err := json.Unmarshal(raw.Content, &records); err == nil {
			res.Records = normalizeRecords(records)
		} else {
			res.Content = scalarContent(raw.Content)
		}
		return res, nil
	}
}

func normalizeRecords(raw []rawRecord) []KnowledgeRecord {
	out := make([]KnowledgeRecord, 0, len(raw))
	for _, r := range raw {
		content := r.Content
		if content == "" {
			content = r.ContentSnippet
		}
		out = append(out, KnowledgeRecord{Content: content, Source: r.Source, Score: r.Score})
	}
	return out
}

func scalarContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// ProcessingNotice is the parsed payload of a kb_processing frame.
type ProcessingNotice struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	Query           string `json:"query"`
	KnowledgeBaseID string `json:"knowledgeBaseId"`
}

// ParseProcessingNotice parses the embedded JSON payload of a kb_processing
// frame. The identifier field is optional; when present the router
// cross-checks it against the configured knowledge base.
func ParseProcessingNotice(data string) (ProcessingNotice, error) {
	var notice ProcessingNotice
	if err := json.Unmarshal([]byte(data), &notice); err != nil {
		return ProcessingNotice{}, fmt.Errorf("wire: processing payload: %w", err)
	}
	return notice, nil
}
