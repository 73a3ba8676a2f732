package embedding

import (
	"hash/fnv"

	"github.com/hyperjump/kakunin/internal/analysis"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken = 101
	sepToken = 102
	// Hashed word IDs land in [firstWordID, firstWordID+wordIDSpan), clear of
	// the special tokens at the bottom of BERT vocabularies.
	firstWordID = 1000
	wordIDSpan  = 29000
)

// SimpleTokenizer splits text the way the lexical index does (amounts and
// clause numbers stay whole) and hashes each word into the model vocabulary.
type SimpleTokenizer struct{}

// Tokenize produces [CLS] words... [SEP] padded to maxTokens. Words past
// maxTokens-2 are dropped.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1

	pos := 1
	for _, word := range analysis.Tokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = WordID(word)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = sepToken
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// WordID returns the deterministic vocabulary ID for a lowercase word.
func WordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(h.Sum32()%wordIDSpan) + firstWordID
}
