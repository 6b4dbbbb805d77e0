package retrieval

import "strings"

const (
	// DefaultChunkSize and DefaultChunkOverlap are token-equivalent
	// units (whitespace tokens). Both are tunable configuration, not
	// derived invariants.
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 80
)

// SplitText splits text into overlapping chunks of roughly chunkSize
// tokens, each sharing overlap tokens with its predecessor. Short
// texts come back as a single chunk.
func SplitText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= chunkSize {
		return []string{strings.Join(tokens, " ")}
	}

	step := chunkSize - overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
