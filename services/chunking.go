package services

import (
	"fmt"

	"arxiv-chatbot/models"
)

// ChunkingService splits extracted text into fixed rune windows with
// overlap. Consecutive chunks share `overlap` trailing/leading runes so
// a semantic boundary split across a window stays retrievable from at
// least one chunk. Chunking is deterministic: identical input yields
// identical boundaries.
type ChunkingService struct {
	maxChunkSize int
	overlap      int
	minChunkSize int
}

func NewChunkingService(maxChunkSize, overlap, minChunkSize int) *ChunkingService {
	if maxChunkSize <= 0 {
		maxChunkSize = 500
	}
	if overlap < 0 || overlap >= maxChunkSize {
		overlap = 0
	}
	if minChunkSize < 0 {
		minChunkSize = 0
	}
	return &ChunkingService{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}
}

// ChunkDocument windows the text of one source file into chunks with
// provenance metadata.
func (s *ChunkingService) ChunkDocument(source, text string) []models.Chunk {
	runes := []rune(text)
	step := s.maxChunkSize - s.overlap

	chunks := make([]models.Chunk, 0, len(runes)/step+1)
	order := 0
	for start := 0; start < len(runes); start += step {
		end := start + s.maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := string(runes[start:end])
		if len([]rune(part)) >= s.minChunkSize {
			chunks = append(chunks, models.Chunk{
				ID:     fmt.Sprintf("%s#%04d", source, order),
				Source: source,
				Order:  order,
				Text:   part,
			})
			order++
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
