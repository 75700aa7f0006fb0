package memory

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kirikou/kirikou/internal/models"
)

// Source is a document to be ingested into the knowledge base
type Source struct {
	URL     string `json:"url" yaml:"url"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// IngestReport summarises an ingestion run
type IngestReport struct {
	Ingested int
	Skipped  int
	Chunks   int
	Duration time.Duration
}

// Ingester splits, embeds and stores sources
type Ingester struct {
	store    VectorStore
	pool     *Pool
	manifest Manifest
	config   *Config
	logger   *zap.SugaredLogger
}

// NewIngester creates an ingester. manifest may be nil, in which case every
// source is re-ingested.
func NewIngester(store VectorStore, pool *Pool, manifest Manifest, config *Config, logger *zap.SugaredLogger) *Ingester {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Ingester{
		store:    store,
		pool:     pool,
		manifest: manifest,
		config:   config,
		logger:   logger,
	}
}

// Ingest stores every source whose content changed since the last run.
// force re-ingests unchanged sources too.
func (i *Ingester) Ingest(ctx context.Context, sources []Source, force bool) (*IngestReport, error) {
	start := time.Now()
	report := &IngestReport{}

	for _, src := range sources {
		if src.URL == "" {
			return nil, fmt.Errorf("source %q has no url", src.Title)
		}
		hash := contentHash(src)

		if i.manifest != nil && !force {
			prev, err := i.manifest.Lookup(ctx, src.URL)
			if err != nil {
				return nil, err
			}
			if prev != nil && prev.ContentHash == hash {
				i.logger.Debugw("Skipping unchanged source", "url", src.URL)
				report.Skipped++
				continue
			}
		}

		n, err := i.ingestOne(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest %s: %w", src.URL, err)
		}

		if i.manifest != nil {
			if err := i.manifest.Record(ctx, &ManifestEntry{
				URL:         src.URL,
				Title:       src.Title,
				ContentHash: hash,
				Chunks:      n,
			}); err != nil {
				return nil, err
			}
		}

		i.logger.Infow("Ingested source", "url", src.URL, "chunks", n)
		report.Ingested++
		report.Chunks += n
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (i *Ingester) ingestOne(ctx context.Context, src Source) (int, error) {
	chunks := SplitText(src.Content, i.config.ChunkSize, i.config.ChunkOverlap)
	if len(chunks) == 0 {
		// an emptied source must not leave its old chunks retrievable
		if _, err := i.store.DeleteByURL(ctx, src.URL); err != nil {
			return 0, err
		}
		return 0, nil
	}

	embeddings, err := i.pool.EmbedAll(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if _, err := i.store.DeleteByURL(ctx, src.URL); err != nil {
		return 0, err
	}

	docs := make([]*models.Document, len(chunks))
	for n, chunk := range chunks {
		docs[n] = &models.Document{
			ID:        ChunkID(src.URL, n),
			Content:   chunk,
			Embedding: embeddings[n],
			Metadata: map[string]interface{}{
				"url":   src.URL,
				"title": src.Title,
				"chunk": n,
			},
		}
	}

	if err := i.store.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ChunkID derives a stable document ID for chunk n of url
func ChunkID(url string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", url, n))).String()
}

func contentHash(src Source) string {
	sum := sha256.Sum256([]byte(src.Title + "\x00" + src.Content))
	return hex.EncodeToString(sum[:])
}

// LoadSources reads sources from a .jsonl, .json or .yaml file
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var sources []Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			var src Source
			if err := json.Unmarshal([]byte(text), &src); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			sources = append(sources, src)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &sources); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sources); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported source file type: %s", path)
	}
	return sources, nil
}
