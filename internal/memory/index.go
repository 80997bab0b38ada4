package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/session"
)

// DefaultTopK is the number of entries a search returns by default.
const DefaultTopK = 3

// IndexConfig configures the bleve index.
type IndexConfig struct {
	// Path is the index directory. Empty keeps the index in memory.
	Path string
	TopK int
}

// Index is a full-text index of solved sessions, keyed by session ID so a
// session indexed twice is stored once.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	topK   int
	logger *logging.Logger
}

// entryDocument is the stored form of an Entry.
type entryDocument struct {
	SessionID         string    `json:"session_id"`
	Query             string    `json:"query"`
	ResultRequirement string    `json:"result_requirement"`
	SolutionSummary   string    `json:"solution_summary"`
	Keywords          []string  `json:"keywords"`
	CreatedAt         time.Time `json:"created_at"`
}

// OpenIndex opens or creates the index.
func OpenIndex(cfg IndexConfig) (*Index, error) {
	var idx bleve.Index
	var err error

	switch {
	case cfg.Path == "":
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory: %w", err)
		}
		if _, statErr := os.Stat(cfg.Path); os.IsNotExist(statErr) {
			idx, err = bleve.New(cfg.Path, buildIndexMapping())
		} else {
			idx, err = bleve.Open(cfg.Path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open memory index: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Index{
		index:  idx,
		topK:   topK,
		logger: logging.New().WithComponent("memory"),
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("session_id", keyword)
	doc.AddFieldMappingsAt("query", text)
	doc.AddFieldMappingsAt("result_requirement", text)
	doc.AddFieldMappingsAt("solution_summary", text)
	doc.AddFieldMappingsAt("keywords", text)
	doc.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// Record indexes a finished session. Sessions that did not achieve their
// goal are ignored.
func (x *Index) Record(ctx context.Context, sess *session.Session) error {
	e, ok := EntryFor(sess)
	if !ok {
		return nil
	}
	return x.Add(e)
}

// Add indexes one entry.
func (x *Index) Add(e Entry) error {
	if e.SessionID == "" {
		return fmt.Errorf("memory entry has no session id")
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	doc := entryDocument{
		SessionID:         e.SessionID,
		Query:             e.Query,
		ResultRequirement: e.ResultRequirement,
		SolutionSummary:   e.SolutionSummary,
		Keywords:          extractKeywords(e.Query),
		CreatedAt:         e.CreatedAt,
	}
	if err := x.index.Index(e.SessionID, doc); err != nil {
		return fmt.Errorf("failed to index session %s: %w", e.SessionID, err)
	}
	return nil
}

// Search returns the best matching entries, weighting the remembered query
// above the solution summary.
func (x *Index) Search(ctx context.Context, text string) []Entry {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	req := bleve.NewSearchRequest(buildSearchQuery(text))
	req.Size = x.topK
	req.Fields = []string{"*"}

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		x.logger.Warn("memory search failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	out := make([]Entry, 0, len(res.Hits))
	for _, hit := range res.Hits {
		e := Entry{SessionID: hit.ID, Score: hit.Score}
		e.Query, _ = hit.Fields["query"].(string)
		e.ResultRequirement, _ = hit.Fields["result_requirement"].(string)
		e.SolutionSummary, _ = hit.Fields["solution_summary"].(string)
		if ts, ok := hit.Fields["created_at"].(string); ok {
			e.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		out = append(out, e)
	}
	return out
}

func buildSearchQuery(text string) query.Query {
	onQuery := bleve.NewMatchQuery(text)
	onQuery.SetField("query")
	onQuery.SetBoost(1.25)

	onSummary := bleve.NewMatchQuery(text)
	onSummary.SetField("solution_summary")

	queries := []query.Query{onQuery, onSummary}
	for _, kw := range extractKeywords(text) {
		q := bleve.NewMatchQuery(kw)
		q.SetField("keywords")
		q.SetBoost(0.5)
		queries = append(queries, q)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Count returns the number of indexed entries.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// Reindex indexes every solved session in the store's logs.
func (x *Index) Reindex(ctx context.Context, store *session.FileStore) (int, error) {
	paths, err := store.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		sess, err := session.LoadFile(p)
		if err != nil {
			x.logger.Warn("skipping unreadable session log", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
			continue
		}
		e, ok := EntryFor(sess)
		if !ok {
			continue
		}
		if err := x.Add(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close closes the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}

var stopWords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"are": true, "was": true, "were": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "its": true, "you": true,
	"they": true, "them": true, "what": true, "how": true, "find": true, "calculate": true,
}

// extractKeywords lowercases text and keeps distinct words of three or more
// letters that are not stop words.
func extractKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
