// Package searchindex implements the Search Indexer: bulk-buffers
// documents and flushes them to the search backend either when the
// buffer fills or a flush timer elapses, synthesizing the "_search_text"
// and "_normalized_timestamp" fields the Query Engine's free-text search
// relies on.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/codeready-toolchain/sentinel/internal/redact"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexPrefix = "securewatch-logs-"

// Config configures the bulk buffer.
type Config struct {
	FlushSize     int           // default 100 docs
	FlushInterval time.Duration // default 5s
}

// DefaultConfig returns the documented bulk-buffer defaults.
func DefaultConfig() Config {
	return Config{FlushSize: 100, FlushInterval: 5 * time.Second}
}

// Indexer batches documents and flushes them to the search backend.
type Indexer struct {
	client  *elasticsearch.Client
	cfg     Config
	scrub   *redact.Scrubber

	mu      sync.Mutex
	pending []eventmodel.Event
	timer   *time.Timer

	mappingsMu sync.Mutex
	ensured    map[string]bool
}

// New builds an Indexer against the given search backend URL. Free-text
// fields are scrubbed with the default secret-redaction patterns before
// being copied into the indexed document's search text, since the search
// index makes message/command-line content broadly searchable and so
// should not carry secrets embedded in raw log text.
func New(url string, cfg Config) (*Indexer, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return &Indexer{client: client, cfg: cfg, scrub: redact.NewDefault(), ensured: make(map[string]bool)}, nil
}

// indexName derives the daily rolling index name.
func indexName(e eventmodel.Event) string {
	return indexPrefix + e.Timestamp.UTC().Format("2006.01.02")
}

// doc synthesizes the indexed document, including the derived fields the
// Query Engine's free-text mode depends on.
type doc struct {
	eventmodel.Event
	SearchText          string `json:"_search_text"`
	NormalizedTimestamp string `json:"_normalized_timestamp"`
}

func (ix *Indexer) toDoc(e eventmodel.Event) doc {
	var parts []string
	parts = append(parts, e.Message, e.Category, string(e.Severity), e.Host.Hostname)
	if e.User != nil {
		parts = append(parts, e.User.Name)
	}
	if e.Process != nil {
		parts = append(parts, e.Process.Name, e.Process.CommandLine)
	}
	parts = append(parts, e.Tags...)
	return doc{
		Event:               e,
		SearchText:          ix.scrub.Scrub(strings.Join(parts, " ")),
		NormalizedTimestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Index buffers a single event, flushing immediately if the buffer
// reaches FlushSize.
func (ix *Indexer) Index(ctx context.Context, e eventmodel.Event) error {
	return ix.IndexBatch(ctx, []eventmodel.Event{e})
}

// IndexBatch buffers a batch of events, flushing whichever events push the
// buffer past FlushSize.
func (ix *Indexer) IndexBatch(ctx context.Context, events []eventmodel.Event) error {
	ix.mu.Lock()
	ix.pending = append(ix.pending, events...)
	shouldFlush := len(ix.pending) >= ix.cfg.FlushSize
	if ix.timer == nil {
		ix.timer = time.AfterFunc(ix.cfg.FlushInterval, func() { _ = ix.Flush(context.Background()) })
	}
	var toFlush []eventmodel.Event
	if shouldFlush {
		toFlush = ix.pending
		ix.pending = nil
		if ix.timer != nil {
			ix.timer.Stop()
			ix.timer = nil
		}
	}
	ix.mu.Unlock()

	if toFlush != nil {
		return ix.bulkIndex(ctx, toFlush)
	}
	return nil
}

// Flush forces any buffered documents out immediately.
func (ix *Indexer) Flush(ctx context.Context) error {
	ix.mu.Lock()
	toFlush := ix.pending
	ix.pending = nil
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}
	ix.mu.Unlock()
	if len(toFlush) == 0 {
		return nil
	}
	return ix.bulkIndex(ctx, toFlush)
}

func (ix *Indexer) bulkIndex(ctx context.Context, events []eventmodel.Event) error {
	byIndex := make(map[string][]eventmodel.Event)
	for _, e := range events {
		name := indexName(e)
		byIndex[name] = append(byIndex[name], e)
		if err := ix.ensureMapping(ctx, name); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	for name, evs := range byIndex {
		for _, e := range evs {
			meta, _ := json.Marshal(map[string]any{"index": map[string]any{"_index": name, "_id": e.ID}})
			buf.Write(meta)
			buf.WriteByte('\n')
			body, err := json.Marshal(ix.toDoc(e))
			if err != nil {
				return fmt.Errorf("marshal search document for event %s: %w", e.ID, err)
			}
			buf.Write(body)
			buf.WriteByte('\n')
		}
	}

	res, err := ix.client.Bulk(bytes.NewReader(buf.Bytes()), ix.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk index request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index response error: %s", res.String())
	}
	return nil
}

// ensureMapping creates the daily index with its mapping if it doesn't
// already exist.
func (ix *Indexer) ensureMapping(ctx context.Context, name string) error {
	ix.mappingsMu.Lock()
	defer ix.mappingsMu.Unlock()
	if ix.ensured[name] {
		return nil
	}

	exists, err := esapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("check index %s existence: %w", name, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		ix.ensured[name] = true
		return nil
	}

	mapping := strings.NewReader(`{
		"mappings": {
			"properties": {
				"_search_text": {"type": "text"},
				"_normalized_timestamp": {"type": "date"},
				"risk_score": {"type": "float"},
				"tags": {"type": "keyword"}
			}
		}
	}`)
	create, err := esapi.IndicesCreateRequest{Index: name, Body: mapping}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer create.Body.Close()
	if create.IsError() && create.StatusCode != 400 { // 400 = already exists, benign race
		return fmt.Errorf("create index %s response error: %s", name, create.String())
	}
	ix.ensured[name] = true
	return nil
}
