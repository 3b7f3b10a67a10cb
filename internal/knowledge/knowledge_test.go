package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/stackflow/internal/llm"
	"github.com/efebarandurmaz/stackflow/internal/vector"
)

// bagProvider embeds text as counts of a few marker words.
type bagProvider struct {
	fail error
}

func (p *bagProvider) Name() string { return "bag" }

func (p *bagProvider) Complete(context.Context, *llm.Prompt, *llm.RequestOptions) (*llm.Response, error) {
	return &llm.Response{}, nil
}

func (p *bagProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	markers := []string{"cat", "dog", "fish"}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(markers))
		for j, m := range markers {
			v[j] = float32(strings.Count(t, m)) + 0.01
		}
		out[i] = v
	}
	return out, nil
}

type stubProviders struct {
	provider llm.Provider
	seen     []llm.Override
}

func (s *stubProviders) Get(o llm.Override) (llm.Provider, error) {
	s.seen = append(s.seen, o)
	return s.provider, nil
}

func TestService_IngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	providers := &stubProviders{provider: &bagProvider{}}
	store := vector.NewMemory()
	svc := NewService(providers, store, Config{ChunkSize: 40, ChunkOverlap: 0, EmbeddingModel: "gemini-embedding-001"}, nil)

	doc := "cat cat cat likes naps\n\ndog dog dog fetches balls\n\nfish fish fish swim all day"
	res, err := svc.Ingest(ctx, Upload{FileName: "pets.txt", Data: []byte(doc), APIKey: "node-key"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Ready || res.Chunks != 3 {
		t.Errorf("expected 3 ready chunks, got %+v", res)
	}
	if !strings.HasPrefix(res.CollectionName, CollectionPrefix) {
		t.Errorf("expected %s prefix, got %q", CollectionPrefix, res.CollectionName)
	}
	if providers.seen[0].EmbedModel != "gemini-embedding-001" || providers.seen[0].APIKey != "node-key" {
		t.Errorf("expected configured model and node key, got %+v", providers.seen[0])
	}

	chunks, err := svc.Retrieve(ctx, Query{Collection: res.CollectionName, Text: "tell me about the dog", TopK: 1})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0], "dog") {
		t.Errorf("expected the dog chunk, got %q", chunks)
	}
}

func TestService_IngestErrors(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemory()

	svc := NewService(&stubProviders{provider: &bagProvider{}}, store, Config{MaxFileBytes: 10}, nil)
	if _, err := svc.Ingest(ctx, Upload{FileName: "a.txt"}); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := svc.Ingest(ctx, Upload{FileName: "a.txt", Data: []byte("this is far too long")}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := svc.Ingest(ctx, Upload{FileName: "a.bin", Data: []byte{0xff, 0xfe}}); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}
	if _, err := svc.Ingest(ctx, Upload{FileName: "a.txt", Data: []byte("   ")}); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}

	boom := errors.New("embedding backend down")
	svc = NewService(&stubProviders{provider: &bagProvider{fail: boom}}, store, Config{}, nil)
	if _, err := svc.Ingest(ctx, Upload{FileName: "a.txt", Data: []byte("cat")}); !errors.Is(err, boom) {
		t.Errorf("expected embedding error, got %v", err)
	}
}

func TestService_RetrieveWithoutQuery(t *testing.T) {
	svc := NewService(&stubProviders{provider: &bagProvider{}}, vector.NewMemory(), Config{}, nil)
	chunks, err := svc.Retrieve(context.Background(), Query{Collection: "kb_x", Text: "  "})
	if err != nil || chunks != nil {
		t.Errorf("expected no chunks and no error, got %q, %v", chunks, err)
	}
}

func TestExtractText_InvalidPDF(t *testing.T) {
	if _, err := ExtractText("broken.pdf", []byte("%PDF-1.4 garbage")); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}
}
