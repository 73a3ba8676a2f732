package keyword

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kakunin/internal/analysis"
	"github.com/hyperjump/kakunin/internal/models"
)

const (
	fieldText       = "text"
	fieldDocumentID = "document_id"
)

// chunkDoc is the indexed shape of a chunk.
type chunkDoc struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

// BleveIndex implements KeywordIndex with an in-memory Bleve index. Each corpus
// snapshot owns one, so it is written once at build time and then only read.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates an empty in-memory index. Chunk text uses the English
// analyzer (lowercase, stop words, Porter stemming) so "covered" matches "cover".
func NewBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = en.AnalyzerName
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)

	docIDMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldDocumentID, docIDMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Index adds chunks in one batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, chunkDoc{Text: c.Text, DocumentID: c.SourceDocumentID}); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search runs a match query over chunk text and returns up to limit hits ordered
// by score descending, then chunk id ascending.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	var q blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldText)
		q = mq
	}
	if opts != nil && opts.DocumentID != "" {
		// Zero boost keeps the filter out of the score.
		tq := bleve.NewTermQuery(opts.DocumentID)
		tq.SetField(fieldDocumentID)
		tq.SetBoost(0)
		q = bleve.NewConjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		if hit.Score <= 0 {
			continue
		}
		out = append(out, &KeywordResult{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries over the stemmed key terms
// of the query, matching how chunk text was analyzed.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := analysis.Analyze(queryStr).Terms
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(fieldText)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldText)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a chunk from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
