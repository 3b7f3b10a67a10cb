// Package knowledge turns uploaded documents into vector collections and
// answers similarity queries against them.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/stackflow/internal/llm"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/vector"
)

// Upload errors.
var (
	ErrEmptyFile    = errors.New("empty file")
	ErrFileTooLarge = errors.New("file too large")
)

// CollectionPrefix starts every collection name this package creates.
const CollectionPrefix = "kb_"

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 3

// Config tunes ingestion and retrieval.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	EmbeddingModel string // used when an upload names none
	MaxFileBytes   int64
}

// Providers resolves the embedding provider for a model and credential.
// *llm.Pool implements it.
type Providers interface {
	Get(o llm.Override) (llm.Provider, error)
}

// Upload is a file submitted for a KnowledgeBase node.
type Upload struct {
	FileName       string
	Data           []byte
	EmbeddingModel string
	APIKey         string
}

// Result describes a collection ready for retrieval.
type Result struct {
	CollectionName string `json:"collection_name"`
	Chunks         int    `json:"chunks"`
	Ready          bool   `json:"ready"`
}

// Query asks a collection for the chunks closest to Text.
type Query struct {
	Collection     string
	Text           string
	EmbeddingModel string
	APIKey         string
	TopK           int
}

// Service ingests documents and retrieves chunks.
type Service struct {
	providers Providers
	store     vector.Repository
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a knowledge service.
func NewService(providers Providers, store vector.Repository, cfg Config, logger *slog.Logger) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{providers: providers, store: store, cfg: cfg, logger: logger}
}

// NewCollectionName returns a fresh collection name.
func NewCollectionName() string {
	return CollectionPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Ingest extracts, chunks, embeds and stores an upload in a new collection.
// On failure nothing is left behind.
func (s *Service) Ingest(ctx context.Context, u Upload) (res *Result, err error) {
	ctx, span := observability.StartIngestSpan(ctx, u.FileName, len(u.Data))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if len(u.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, u.FileName)
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(u.Data)) > s.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, u.FileName, len(u.Data), s.cfg.MaxFileBytes)
	}

	text, err := ExtractText(u.FileName, u.Data)
	if err != nil {
		return nil, err
	}
	chunks := Splitter{Size: s.cfg.ChunkSize, Overlap: s.cfg.ChunkOverlap}.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoText, u.FileName)
	}

	model := s.embeddingModel(u.EmbeddingModel)
	provider, err := s.providers.Get(llm.Override{EmbedModel: model, APIKey: u.APIKey})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	name := NewCollectionName()
	meta := make([]map[string]string, len(chunks))
	for i := range chunks {
		meta[i] = map[string]string{
			"source":          u.FileName,
			"chunk":           strconv.Itoa(i),
			"embedding_model": model,
		}
	}

	n, err := vector.NewEmbedder(provider, s.store).IndexTexts(ctx, name, chunks, meta)
	if err != nil {
		if derr := s.store.DeleteCollection(context.WithoutCancel(ctx), name); derr != nil {
			s.logger.Warn("cleanup of partial collection failed", "collection", name, "error", derr)
		}
		return nil, fmt.Errorf("index %s: %w", u.FileName, err)
	}

	observability.RecordIngestResult(span, name, n)
	s.logger.Info("knowledge base indexed", "file", u.FileName, "collection", name, "chunks", n, "model", model)
	return &Result{CollectionName: name, Chunks: n, Ready: true}, nil
}

// Retrieve returns the text of the chunks closest to q.Text, best first.
func (s *Service) Retrieve(ctx context.Context, q Query) (chunks []string, err error) {
	topK := q.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	ctx, span := observability.StartRetrieveSpan(ctx, q.Collection, topK)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	if q.Collection == "" || strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	provider, err := s.providers.Get(llm.Override{EmbedModel: s.embeddingModel(q.EmbeddingModel), APIKey: q.APIKey})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	results, err := vector.NewEmbedder(provider, s.store).SearchText(ctx, q.Collection, q.Text, topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Collection, err)
	}
	chunks = make([]string, len(results))
	for i, r := range results {
		chunks[i] = r.Content
	}
	return chunks, nil
}

// Delete drops a collection.
func (s *Service) Delete(ctx context.Context, collection string) error {
	return s.store.DeleteCollection(ctx, collection)
}

func (s *Service) embeddingModel(m string) string {
	if m != "" {
		return m
	}
	return s.cfg.EmbeddingModel
}
