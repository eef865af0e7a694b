package search

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/storage"
)

// MemoryIndex keeps the index in memory only.
const MemoryIndex = ":memory:"

// Index is a bleve full-text index over cached polls. It follows the cache
// as a cache.Listener.
type Index struct {
	source Source
	idx    bleve.Index
	log    *logrus.Entry
}

// NewIndex creates or opens a Bleve index at indexPath and indexes the
// polls currently cached.
func NewIndex(source Source, indexPath string) (*Index, error) {
	var idx bleve.Index
	var err error

	if indexPath == "" || indexPath == MemoryIndex {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		// Open/Create below reports the error if this fails
		_ = os.MkdirAll(filepath.Dir(indexPath), 0o755)

		idx, err = bleve.Open(indexPath)
		if err != nil {
			idx, err = bleve.New(indexPath, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, err
	}

	ix := &Index{source: source, idx: idx, log: debuglog.Module("search")}
	if err := ix.Reindex(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return ix, nil
}

// Open returns the bleve index, or the scanning engine when the index
// cannot be opened.
func Open(source Source, indexPath string) Searcher {
	ix, err := NewIndex(source, indexPath)
	if err != nil {
		debuglog.Warnf("search: index unavailable, falling back to scan: %v", err)
		return NewEngine(source)
	}
	return ix
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true
	title.DocValues = true

	desc := bleve.NewTextFieldMapping()
	desc.Analyzer = standard.Name
	desc.Store = true
	desc.IncludeTermVectors = false

	questions := bleve.NewTextFieldMapping()
	questions.Analyzer = standard.Name
	questions.Store = false
	questions.IncludeTermVectors = false

	status := bleve.NewKeywordFieldMapping()
	status.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("description", desc)
	dm.AddFieldMappingsAt("questions", questions)
	dm.AddFieldMappingsAt("status", status)

	im.DefaultMapping = dm
	return im
}

func pollDocument(poll *storage.PollRecord) map[string]any {
	return map[string]any{
		"title":       poll.Title,
		"description": poll.Description,
		"questions":   questionText(poll),
		"status":      poll.Status,
	}
}

// questionText flattens question titles and option texts into one field.
func questionText(poll *storage.PollRecord) string {
	var b strings.Builder
	for _, q := range poll.Questions {
		b.WriteString(q.Title)
		b.WriteByte('\n')
		for _, o := range q.Options {
			b.WriteString(o.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Reindex rebuilds the documents from the cache.
func (b *Index) Reindex() error {
	batch := b.idx.NewBatch()
	for _, poll := range b.source.GetPolls(0) {
		if err := batch.Index(docIDForPoll(poll.PollID), pollDocument(&poll.PollRecord)); err != nil {
			return err
		}
	}
	return b.idx.Batch(batch)
}

func (b *Index) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	// an OR of per-term matches across the fields, with boosts
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		qs = append(qs, fieldQueries(tok, "title", 4.0)...)
		qs = append(qs, fieldQueries(tok, "description", 2.0)...)
		qs = append(qs, fieldQueries(tok, "questions", 1.0)...)
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"title", "description"}
	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, ok := pollIDFromDoc(h.ID)
		if !ok {
			continue
		}
		r := &Result{PollID: id, Score: h.Score}
		if t, ok := h.Fields["title"].(string); ok {
			r.Title = t
		}
		if d, ok := h.Fields["description"].(string); ok {
			r.Description = d
		}
		out = append(out, r)
	}
	return out, nil
}

// fieldQueries matches a term exactly and as a prefix, the prefix slightly
// lower.
func fieldQueries(tok, field string, boost float64) []bleveQuery.Query {
	match := bleve.NewMatchQuery(tok)
	match.SetField(field)
	match.SetBoost(boost)

	prefix := bleve.NewPrefixQuery(strings.ToLower(tok))
	prefix.SetField(field)
	prefix.SetBoost(boost * 0.85)

	return []bleveQuery.Query{match, prefix}
}

// PollsSaved indexes saved polls.
func (b *Index) PollsSaved(polls []*storage.PollRecord) {
	batch := b.idx.NewBatch()
	for _, poll := range polls {
		_ = batch.Index(docIDForPoll(poll.PollID), pollDocument(poll))
	}
	if err := b.idx.Batch(batch); err != nil {
		b.log.WithError(err).Warn("Indexing polls failed")
	}
}

// PollsRemoved drops swept polls from the index.
func (b *Index) PollsRemoved(ids []int64) {
	batch := b.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(docIDForPoll(id))
	}
	if err := b.idx.Batch(batch); err != nil {
		b.log.WithError(err).Warn("Removing polls from index failed")
	}
}

// DocCount reports total documents in the index.
func (b *Index) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *Index) Close() error {
	return b.idx.Close()
}

func docIDForPoll(id int64) string { return "poll:" + strconv.FormatInt(id, 10) }

func pollIDFromDoc(doc string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(doc, "poll:"), 10, 64)
	return id, err == nil
}
