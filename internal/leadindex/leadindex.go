// Package leadindex keeps an in-memory full text index over each run's
// accepted leads, so lead search stays off Postgres and the index dies
// with the run's data.
package leadindex

import (
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/leadgen/models"
)

type Index struct {
	mu   sync.RWMutex
	runs map[string]*runIndex
}

type runIndex struct {
	mu    sync.RWMutex
	bleve bleve.Index
}

// Hit is one lead matched by a search, best first.
type Hit struct {
	LeadID string  `json:"lead_id"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// leadDoc is the flattened shape indexed per lead.
type leadDoc struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Industry string `json:"industry"`
	Location string `json:"location"`
	Context  string `json:"context"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func New() *Index {
	return &Index{runs: make(map[string]*runIndex)}
}

// Add indexes one lead under its run, creating the run's index on first
// use.
func (idx *Index) Add(runID string, lead models.Lead) error {
	run, err := idx.runFor(runID)
	if err != nil {
		return err
	}

	doc := leadDoc{
		Name:     lead.DisplayName(),
		Title:    lead.Contact.Title,
		Company:  lead.Contact.CompanyName,
		Industry: lead.Contact.CompanyIndustry,
		Location: lead.Contact.City + " " + lead.Contact.State + " " + lead.Contact.Country,
		Context:  lead.ScrapedContext,
		Subject:  lead.Outreach.Subject,
		Body:     lead.Outreach.Body,
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.bleve.Index(lead.ID, doc)
}

// Search runs a query-string search over one run's leads. A run with no
// index yet returns no hits, not an error.
func (idx *Index) Search(runID, q string, k int) ([]Hit, error) {
	idx.mu.RLock()
	run, ok := idx.runs[runID]
	idx.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)

	run.mu.RLock()
	res, err := run.bleve.Search(searchReq)
	run.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		out = append(out, Hit{LeadID: hit.ID, Score: hit.Score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// DropRun discards a run's index.
func (idx *Index) DropRun(runID string) error {
	idx.mu.Lock()
	run, ok := idx.runs[runID]
	delete(idx.runs, runID)
	idx.mu.Unlock()
	if ok {
		return run.bleve.Close()
	}
	return nil
}

func (idx *Index) runFor(runID string) (*runIndex, error) {
	idx.mu.RLock()
	run, ok := idx.runs[runID]
	idx.mu.RUnlock()
	if ok {
		return run, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if run, ok = idx.runs[runID]; ok {
		return run, nil
	}
	b, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	run = &runIndex{bleve: b}
	idx.runs[runID] = run
	return run, nil
}
