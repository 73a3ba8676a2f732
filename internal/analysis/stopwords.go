package analysis

var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below", "between", "both",
	"but", "by", "can", "could", "did", "do", "does", "doing", "down", "during", "each", "few",
	"for", "from", "further", "had", "has", "have", "having", "he", "her", "here", "hers",
	"him", "his", "i", "if", "in", "into", "is", "it", "its", "itself", "just", "me", "more",
	"most", "my", "myself", "now", "of", "off", "on", "once", "or",
	"other", "our", "ours", "out", "over", "own", "same", "shall", "she", "should", "so",
	"some", "such", "than", "that", "the", "their", "theirs", "them", "then", "there", "these",
	"they", "this", "those", "through", "to", "too", "under", "until", "up", "upon", "us",
	"very", "was", "we", "were", "will", "with", "would", "you", "your", "yours",
)

// Question words carry no evidence and are ignored when extracting key terms.
var questionWords = toSet("what", "which", "who", "whom", "whose", "when", "where", "why", "how", "tell", "please", "explain")

// IsStopword reports whether tok is a common English function word.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

func isQuestionWord(tok string) bool {
	_, ok := questionWords[tok]
	return ok
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
