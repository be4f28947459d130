package services

import (
	"errors"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	MinChunkSize        = 100
)

var ErrBadChunking = errors.New("chunk size must be at least 100 characters and overlap between 0 and the chunk size")

// ValidateChunking rejects settings that would emit a chunk per word or two.
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize < MinChunkSize || overlap < 0 || overlap >= chunkSize {
		return ErrBadChunking
	}
	return nil
}

// Chunk is a run of consecutive words. The first Overlap words repeat the
// tail of the previous chunk.
type Chunk struct {
	Index   int
	Words   []string
	Overlap int
}

func (c Chunk) Text() string { return strings.Join(c.Words, " ") }

// SplitIntoChunks splits text on whitespace into chunks of roughly chunkSize
// characters. When a chunk fills up, about overlap characters worth of its
// trailing words are carried into the next one. Every chunk contributes at
// least one new word, and dropping each chunk's overlap and concatenating
// the rest yields strings.Fields(text).
func SplitIntoChunks(text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	size, carried := 0, 0

	for _, w := range words {
		current = append(current, w)
		size += len(w) + 1
		if size < chunkSize {
			continue
		}

		chunks = append(chunks, Chunk{Index: len(chunks), Words: current, Overlap: carried})

		carry := 0
		if overlap > 0 {
			avgWordSize := float64(size) / float64(len(current))
			carry = int(float64(overlap) / avgWordSize)
		}
		carry = min(carry, len(current)-1)

		next := make([]string, carry)
		copy(next, current[len(current)-carry:])
		current = next
		size = 0
		for _, cw := range current {
			size += len(cw) + 1
		}
		carried = carry
	}

	if len(current) > carried {
		chunks = append(chunks, Chunk{Index: len(chunks), Words: current, Overlap: carried})
	}
	return chunks
}

// JoinChunks drops each chunk's overlap and rejoins the remaining words.
func JoinChunks(chunks []Chunk) string {
	var words []string
	for _, c := range chunks {
		words = append(words, c.Words[c.Overlap:]...)
	}
	return strings.Join(words, " ")
}
