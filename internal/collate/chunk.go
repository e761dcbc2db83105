package collate

import "strings"

// Default word-count cutoffs for chunking tool output text before reranking.
const (
	DefaultSoftWordLimit = 100
	DefaultHardWordLimit = 300
)

// ChunkConfig controls how SplitText slices a text blob into chunks.
// Zero-value limits fall back to the package defaults.
type ChunkConfig struct {
	// CompactMode collapses newlines into spaces before chunking.
	CompactMode bool

	// SoftWordLimit is the preferred chunk size. Once a chunk has reached
	// this many words it is closed at the next sentence-ending word.
	SoftWordLimit int

	// HardWordLimit is the strict upper bound on words per chunk. A chunk
	// is closed before a word that would push it past this limit.
	HardWordLimit int
}

// SplitText splits content into an ordered sequence of word-bounded chunks.
//
// Words are whitespace-delimited tokens. A chunk is flushed when the next
// word would exceed the hard limit, or, once the soft limit has been
// reached, right after a word ending with a period, so chunks prefer to
// close at sentence boundaries once they are big enough.
//
// No chunk exceeds the hard limit except a chunk holding a single word
// longer than the limit itself (splitting never happens inside a word).
// Empty or whitespace-only content yields nil.
func SplitText(content string, cfg ChunkConfig) []string {
	soft := cfg.SoftWordLimit
	if soft <= 0 {
		soft = DefaultSoftWordLimit
	}
	hard := cfg.HardWordLimit
	if hard <= 0 {
		hard = DefaultHardWordLimit
	}

	if cfg.CompactMode {
		content = strings.ReplaceAll(content, "\n", " ")
	}

	var chunks []string
	var current []string

	for word := range strings.FieldsSeq(content) {
		if len(current)+1 > hard {
			// Flush before appending: the word starts a fresh chunk.
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}

		if len(current)+1 > soft && strings.HasSuffix(word, ".") {
			// Sentence boundary past the soft limit: append, then flush.
			current = append(current, word)
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			continue
		}

		current = append(current, word)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}
