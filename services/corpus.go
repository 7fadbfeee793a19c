package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"arxiv-chatbot/internal/arxiv"
	"arxiv-chatbot/internal/config"
	"arxiv-chatbot/internal/logger"
	"arxiv-chatbot/internal/session"
	"arxiv-chatbot/internal/vectorstore"
	"arxiv-chatbot/models"

	"github.com/google/uuid"
)

// CorpusBuilder loads every PDF in a build directory, extracts text and
// windows it into chunks. The directory is scoped to a single corpus
// build, so stale files from earlier searches never leak into a new
// corpus.
type CorpusBuilder struct {
	chunker *ChunkingService
}

func NewCorpusBuilder(chunker *ChunkingService) *CorpusBuilder {
	return &CorpusBuilder{chunker: chunker}
}

// BuildChunks returns the ordered chunks of all readable PDFs in dir.
// A file that fails extraction is skipped, not fatal. Zero chunks is a
// valid empty result, not an error.
func (b *CorpusBuilder) BuildChunks(ctx context.Context, dir string) ([]models.Chunk, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("list pdf files: %w", err)
	}

	chunks := make([]models.Chunk, 0)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := ExtractPDFText(path)
		if err != nil {
			logger.Warn("Skipping unreadable PDF", "path", path, "error", err)
			continue
		}
		docChunks := b.chunker.ChunkDocument(filepath.Base(path), text)
		logger.Debug("Chunked document", "path", path, "chunks", len(docChunks))
		chunks = append(chunks, docChunks...)
	}
	return chunks, nil
}

// CorpusResult is what a corpus load reports back to the chat surface.
type CorpusResult struct {
	Loaded     bool
	ChunkCount int
	Papers     []models.PaperSummary
}

// CorpusService runs the one-time corpus pipeline: catalog search,
// resilient download, text extraction and chunking, index build, and
// the atomic session swap.
type CorpusService struct {
	catalog    *arxiv.Client
	fetcher    *Fetcher
	builder    *CorpusBuilder
	embedder   vectorstore.Embedder
	sessions   *session.Store
	storageDir string
	maxPapers  int
}

func NewCorpusService(cfg *config.Config, embedder vectorstore.Embedder, sessions *session.Store) *CorpusService {
	chunker := NewChunkingService(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize)
	return &CorpusService{
		catalog:    arxiv.NewClient(cfg.ArxivBaseURL, cfg.ArxivPageSize),
		fetcher:    NewFetcher(cfg.FetchMaxRetries, time.Duration(cfg.FetchBaseDelay*float64(time.Second))),
		builder:    NewCorpusBuilder(chunker),
		embedder:   embedder,
		sessions:   sessions,
		storageDir: cfg.PaperStorageDir,
		maxPapers:  cfg.MaxPapers,
	}
}

// StartNewCorpus assembles a fresh corpus for the session. On success
// the session's index and chat history are replaced together; on an
// empty corpus the session keeps whatever it had and Loaded is false.
func (s *CorpusService) StartNewCorpus(ctx context.Context, req models.SearchRequest) (*CorpusResult, error) {
	sessionID := req.SessionID
	maxPapers := req.MaxPapers
	if maxPapers <= 0 || maxPapers > s.maxPapers {
		maxPapers = s.maxPapers
	}

	// Fresh directory per build; the corpus builder only ever reads its
	// own build's files.
	buildDir := filepath.Join(s.storageDir, uuid.NewString())
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, fmt.Errorf("create corpus dir: %w", err)
	}

	var search arxiv.Search
	if len(req.Queries) > 0 {
		search = arxiv.AdvancedSearch(req.Queries, req.Ignore, maxPapers)
	} else {
		search = arxiv.SimpleSearch(req.Query, maxPapers, req.Field)
	}
	logger.Info("Starting corpus build", "session", sessionID, "query", search.Query, "max_papers", maxPapers)

	it := s.catalog.Results(ctx, search)
	outcomes, err := s.fetcher.FetchBatch(ctx, it, buildDir, maxPapers)
	if err != nil {
		return nil, err
	}

	papers := make([]models.PaperSummary, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Success() {
			continue
		}
		papers = append(papers, models.PaperSummary{
			ID:        o.Record.ID,
			Title:     o.Record.Title,
			Authors:   o.Record.Authors,
			Published: o.Record.Published.Format("2006-01-02"),
		})
	}

	chunks, err := s.builder.BuildChunks(ctx, buildDir)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		logger.Warn("Corpus build produced no chunks", "session", sessionID, "query", search.Query)
		return &CorpusResult{Loaded: false, Papers: papers}, nil
	}

	index, err := vectorstore.Build(ctx, chunks, s.embedder)
	if err != nil {
		return nil, fmt.Errorf("build vector index: %w", err)
	}

	s.sessions.ReplaceCorpus(sessionID, index)
	logger.Info("Corpus loaded", "session", sessionID, "papers", len(papers), "chunks", index.Len())

	return &CorpusResult{Loaded: true, ChunkCount: index.Len(), Papers: papers}, nil
}
