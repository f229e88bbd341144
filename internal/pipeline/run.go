package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/leadgen/internal/fanout"
	"github.com/mohammad-safakhou/leadgen/internal/helpers"
	"github.com/mohammad-safakhou/leadgen/internal/runlog"
	"github.com/mohammad-safakhou/leadgen/models"
)

// runSummary carries the counters the terminal status message reports.
type runSummary struct {
	leads  int
	emails int
}

// processRun drives one run to a terminal status. soft is the cancellation
// token checked at every suspension point; hard bounds the whole task
// including the drain window after a cancel.
func (o *Orchestrator) processRun(soft, hard context.Context, ent *running) {
	runID := ent.run.ID
	started := time.Now()
	defer ent.hardCancel()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("run %s: panic: %v", runID, r)
			o.failRun(runID, started, fmt.Errorf("internal error: %v", r))
		}
	}()

	sum, err := o.execute(soft, hard, ent)
	switch {
	case err == nil:
		o.finishRun(runID, models.RunStatusCompleted, fmt.Sprintf("Pipeline completed successfully with %d leads.", sum.leads), nil)
		o.telemetry.RunFinished("completed", time.Since(started))
	case errors.Is(err, errCanceled):
		o.appendLog(context.Background(), runID, runlog.StageCancel, "🛑", fmt.Sprintf("Pipeline canceled - %d leads preserved", sum.leads), "")
		reason := "canceled by user"
		o.finishRun(runID, models.RunStatusFailed, "Pipeline was canceled.", &reason)
		o.telemetry.RunFinished("canceled", time.Since(started))
	default:
		o.failRun(runID, started, err)
	}
}

func (o *Orchestrator) failRun(runID string, started time.Time, err error) {
	o.appendLog(context.Background(), runID, runlog.StageError, "❌", "Pipeline failed: "+truncate(err.Error(), 120), err.Error())
	errMsg := err.Error()
	o.finishRun(runID, models.RunStatusFailed, statusMessage(models.RunStatusFailed), &errMsg)
	o.telemetry.RunFinished("failed", time.Since(started))
}

func (o *Orchestrator) execute(soft, hard context.Context, ent *running) (runSummary, error) {
	var sum runSummary
	runID := ent.run.ID

	o.mu.RLock()
	req := models.RunRequest{
		UserID:        ent.run.UserID,
		Query:         ent.run.Query,
		SenderContext: ent.run.SenderContext,
		Tone:          ent.run.Tone,
		Channel:       ent.run.Channel,
	}
	o.mu.RUnlock()

	tools, err := o.tools.Build(hard, req.UserID)
	if err != nil {
		return sum, fmt.Errorf("preparing run tools: %w", err)
	}

	// Stage 1: parse. The run stays pending while the query is parsed; any
	// failure here is fatal because every later stage consumes the criteria.
	stageStart := time.Now()
	o.setState(hard, runID, models.RunStatusPending, statusMessage(models.RunStatusPending), 5, 0)
	o.appendLog(hard, runID, runlog.StageQuery, "🔍", fmt.Sprintf("Parsing your query: %q", req.Query), "")

	pctx, cancel := context.WithTimeout(hard, timeoutOr(o.cfg.LLM.Timeout, o.cfg.Pipeline.StageTimeout))
	parsed, err := tools.Provider.ParseQuery(pctx, req.Query)
	cancel()
	if err != nil {
		return sum, fmt.Errorf("query parsing failed: %w", err)
	}
	if criteriaEmpty(parsed) {
		return sum, fmt.Errorf("query parser returned no usable criteria")
	}
	o.appendLog(hard, runID, runlog.StageQuery, "✅", "Query parsed - "+criteriaSummary(parsed), "")
	if len(parsed.SearchQueries) == 0 {
		parsed.SearchQueries = []string{req.Query}
	}
	if raw, err := json.Marshal(parsed); err == nil {
		if err := o.store.StoreParsedQuery(hard, runID, string(raw)); err != nil {
			o.logger.Printf("run %s: storing parsed query: %v", runID, err)
		}
	}
	o.setState(hard, runID, models.RunStatusPending, statusMessage(models.RunStatusPending), 15, 0)
	o.telemetry.StageCompleted("parse", time.Since(stageStart))
	if err := o.interrupted(soft, ent); err != nil {
		return sum, err
	}

	// Stage 2: search. Every extracted query runs concurrently; one failed
	// facet only narrows the result set, all of them failing is fatal.
	stageStart = time.Now()
	o.setState(hard, runID, models.RunStatusSearching, statusMessage(models.RunStatusSearching), 15, 0)

	perQuery := intOr(o.cfg.Search.MaxResults, 10)
	searchTimeout := timeoutOr(o.cfg.Search.Timeout, o.cfg.Pipeline.StageTimeout)
	outcomes := fanout.Execute(soft, parsed.SearchQueries, len(parsed.SearchQueries), func(_ context.Context, q string) ([]models.SearchResult, error) {
		o.appendLog(hard, runID, runlog.StageSearch, "🌐", fmt.Sprintf("Searching: %q", q), "")
		sctx, cancel := context.WithTimeout(hard, searchTimeout)
		defer cancel()
		return tools.Searcher.Discover(sctx, q, perQuery)
	})
	if err := o.interrupted(soft, ent); err != nil {
		return sum, err
	}

	var merged []models.SearchResult
	seen := make(map[string]struct{})
	failures := 0
	var lastErr error
	for _, oc := range outcomes {
		if oc.Err != nil {
			failures++
			lastErr = oc.Err
			continue
		}
		for _, r := range oc.Value {
			key := r.URL
			if fp, err := helpers.URLFingerprint(r.URL); err == nil {
				key = fp
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if r.Domain == "" {
				r.Domain = helpers.Domain(r.URL)
			}
			r.Position = len(merged) + 1
			merged = append(merged, r)
		}
	}
	if failures == len(parsed.SearchQueries) {
		return sum, fmt.Errorf("all %d search queries failed: %w", failures, lastErr)
	}
	if failures > 0 {
		o.appendLog(hard, runID, runlog.StageSearch, "⚠️", fmt.Sprintf("%d of %d searches failed - continuing with partial results", failures, len(parsed.SearchQueries)), "")
	}

	results, err := o.store.InsertSearchResults(hard, runID, merged)
	if err != nil {
		return sum, fmt.Errorf("storing search results: %w", err)
	}
	if len(results) == 0 {
		o.appendLog(hard, runID, runlog.StageSearch, "⚠️", "No search results found - continuing with an empty candidate set", "")
	} else {
		o.appendLog(hard, runID, runlog.StageSearch, "✅", fmt.Sprintf("Found %d results from web search", len(results)), "")
	}
	o.setState(hard, runID, models.RunStatusSearching, statusMessage(models.RunStatusSearching), 30, 0)
	o.telemetry.StageCompleted("search", time.Since(stageStart))
	if err := o.interrupted(soft, ent); err != nil {
		return sum, err
	}

	// Stage 3: enrich. Scrape candidate pages for context, then discover and
	// enrich contacts per company domain. Per-item failures are logged and
	// excluded, never fatal.
	stageStart = time.Now()
	o.setState(hard, runID, models.RunStatusEnriching, statusMessage(models.RunStatusEnriching), 30, 0)

	scrapedByDomain := make(map[string]string)
	maxScrape := minInt(len(results), intOr(o.cfg.Pipeline.MaxScrapeURLs, 15))
	urls := make([]string, 0, maxScrape)
	for _, r := range results[:maxScrape] {
		urls = append(urls, r.URL)
	}
	if len(urls) > 0 {
		o.appendLog(hard, runID, runlog.StageEnrich, "📄", fmt.Sprintf("Scraping %d websites for context...", len(urls)), "")
		fetchTimeout := timeoutOr(o.cfg.Fetch.Timeout, o.cfg.Pipeline.StageTimeout)
		pages := fanout.Execute(soft, urls, intOr(o.cfg.Pipeline.FetchConcurrency, 5), func(_ context.Context, u string) (models.PageContent, error) {
			// In-flight fetches run under the run context so canceled work
			// drains instead of aborting mid-request.
			fctx, cancel := context.WithTimeout(hard, fetchTimeout)
			defer cancel()
			return tools.Fetcher.Exec(fctx, u)
		})
		scraped := 0
		for _, oc := range pages {
			if oc.Err != nil {
				continue
			}
			scraped++
			d := helpers.Domain(oc.Value.URL)
			if d != "" && scrapedByDomain[d] == "" {
				scrapedByDomain[d] = oc.Value.Context()
			}
		}
		o.appendLog(hard, runID, runlog.StageEnrich, "✅", fmt.Sprintf("Scraped %d/%d websites", scraped, len(urls)), "")
	}
	o.setState(hard, runID, models.RunStatusEnriching, statusMessage(models.RunStatusEnriching), 40, 0)
	if err := o.interrupted(soft, ent); err != nil {
		return sum, err
	}

	maxDomains := intOr(o.cfg.Pipeline.MaxDomains, 10)
	resultByDomain := make(map[string]models.SearchResult)
	var domains []string
	for _, r := range results {
		if r.Domain == "" {
			continue
		}
		if _, ok := resultByDomain[r.Domain]; ok {
			continue
		}
		resultByDomain[r.Domain] = r
		domains = append(domains, r.Domain)
		if len(domains) == maxDomains {
			break
		}
	}

	maxLeads := parsed.MaxResults
	var leads []models.Lead
	contactsEnriched := 0
	companies := make(map[string]struct{})

	if len(domains) > 0 && tools.Enricher != nil {
		o.appendLog(hard, runID, runlog.StageEnrich, "👥", fmt.Sprintf("Enriching contacts from %d domains...", len(domains)), "")
		perDomain := intOr(o.cfg.Pipeline.ContactsPerDomain, 25)
		enrichTimeout := timeoutOr(o.cfg.Enrich.Timeout, o.cfg.Pipeline.StageTimeout)

		for i, domain := range domains {
			if err := o.interrupted(soft, ent); err != nil {
				sum.leads = len(leads)
				return sum, err
			}
			if maxLeads > 0 && len(leads) >= maxLeads {
				o.appendLog(hard, runID, runlog.StageEnrich, "ℹ️", fmt.Sprintf("Reached the requested limit of %d leads", maxLeads), "")
				break
			}

			dctx, cancel := context.WithTimeout(hard, enrichTimeout)
			refs, err := tools.Enricher.DiscoverContacts(dctx, domain, parsed)
			cancel()
			if err != nil {
				o.appendLog(hard, runID, runlog.StageEnrich, "⚠️", fmt.Sprintf("Could not enrich %s", domain), err.Error())
				continue
			}
			if len(refs) > perDomain {
				refs = refs[:perDomain]
			}

			details := fanout.Execute(soft, refs, intOr(o.cfg.Pipeline.EnrichConcurrency, 5), func(_ context.Context, ref models.ContactRef) (models.Contact, error) {
				cctx, cancel := context.WithTimeout(hard, enrichTimeout)
				defer cancel()
				return tools.Enricher.Detail(cctx, ref)
			})
			for _, oc := range details {
				if oc.Err != nil {
					continue
				}
				contact := oc.Value
				quality := contact.Quality()
				if quality == models.QualitySkip {
					continue
				}
				if maxLeads > 0 && len(leads) >= maxLeads {
					break
				}
				inserted, err := o.store.InsertLead(hard, models.Lead{
					RunID:          runID,
					SearchResultID: resultByDomain[domain].ID,
					Contact:        contact,
					Quality:        string(quality),
					ScrapedContext: scrapedByDomain[domain],
					IsSelected:     true,
				})
				if err != nil {
					o.logger.Printf("run %s: inserting lead for %s: %v", runID, domain, err)
					continue
				}
				leads = append(leads, inserted)
				contactsEnriched++
				companies[domain] = struct{}{}
				o.telemetry.LeadAccepted(string(quality))
				if err := o.index.Add(runID, inserted); err != nil {
					o.logger.Printf("run %s: indexing lead %s: %v", runID, inserted.ID, err)
				}
				o.appendLog(hard, runID, runlog.StageEnrich, "👤", contactLine(contact, domain), "")
			}

			sum.leads = len(leads)
			o.setState(hard, runID, models.RunStatusEnriching, statusMessage(models.RunStatusEnriching),
				40+float64(i+1)/float64(len(domains))*40, len(leads))
		}

		if contactsEnriched > 0 {
			o.appendLog(hard, runID, runlog.StageEnrich, "✅", fmt.Sprintf("Enriched %d contacts from %d companies", contactsEnriched, len(companies)), "")
		}
	}

	// Without enriched contacts the run still produces one company-level
	// lead per domain so the search work is never silently discarded.
	if len(leads) == 0 && len(domains) > 0 {
		if tools.Enricher == nil {
			o.appendLog(hard, runID, runlog.StageEnrich, "ℹ️", "Apollo API key not configured - creating leads from company data only", "")
		} else {
			o.appendLog(hard, runID, runlog.StageEnrich, "ℹ️", fmt.Sprintf("No contacts from Apollo - creating %d leads from search results", len(domains)), "")
		}
		for _, domain := range domains {
			if maxLeads > 0 && len(leads) >= maxLeads {
				break
			}
			inserted, err := o.store.InsertLead(hard, models.Lead{
				RunID:          runID,
				SearchResultID: resultByDomain[domain].ID,
				Contact:        models.Contact{CompanyName: domain, CompanyDomain: domain},
				Quality:        string(models.QualityMedium),
				ScrapedContext: scrapedByDomain[domain],
				IsSelected:     true,
			})
			if err != nil {
				o.logger.Printf("run %s: inserting company lead for %s: %v", runID, domain, err)
				continue
			}
			leads = append(leads, inserted)
			o.telemetry.LeadAccepted(string(models.QualityMedium))
			if err := o.index.Add(runID, inserted); err != nil {
				o.logger.Printf("run %s: indexing lead %s: %v", runID, inserted.ID, err)
			}
		}
	}

	sum.leads = len(leads)
	o.setState(hard, runID, models.RunStatusEnriching, statusMessage(models.RunStatusEnriching), 80, len(leads))
	o.telemetry.StageCompleted("enrich", time.Since(stageStart))
	if err := o.interrupted(soft, ent); err != nil {
		return sum, err
	}

	// Stage 4: generate. Drafts are written one lead at a time; a failed
	// draft leaves the lead in place without outreach.
	stageStart = time.Now()
	o.setState(hard, runID, models.RunStatusGenerating, statusMessage(models.RunStatusGenerating), 80, len(leads))
	if len(leads) > 0 {
		o.appendLog(hard, runID, runlog.StageGenerate, "✉️", fmt.Sprintf("Generating personalized emails for %d leads...", len(leads)), "")
		llmTimeout := timeoutOr(o.cfg.LLM.Timeout, o.cfg.Pipeline.StageTimeout)
		for i, lead := range leads {
			if err := o.interrupted(soft, ent); err != nil {
				return sum, err
			}
			name := lead.DisplayName()
			o.appendLog(hard, runID, runlog.StageGenerate, "✍️", fmt.Sprintf("Writing email for %s...", name), "")

			gctx, cancel := context.WithTimeout(hard, llmTimeout)
			outreach, err := tools.Provider.GenerateOutreach(gctx, lead, req)
			cancel()
			if err != nil {
				o.appendLog(hard, runID, runlog.StageGenerate, "⚠️", fmt.Sprintf("Could not write email for %s", name), err.Error())
				continue
			}
			if err := o.store.UpdateLeadOutreach(hard, lead.ID, outreach); err != nil {
				o.logger.Printf("run %s: saving outreach for lead %s: %v", runID, lead.ID, err)
				continue
			}
			lead.Outreach = outreach
			if err := o.index.Add(runID, lead); err != nil {
				o.logger.Printf("run %s: reindexing lead %s: %v", runID, lead.ID, err)
			}
			sum.emails++
			o.appendLog(hard, runID, runlog.StageGenerate, "✅", fmt.Sprintf("Email ready for %s", name), "")
			o.setState(hard, runID, models.RunStatusGenerating, statusMessage(models.RunStatusGenerating),
				80+float64(i+1)/float64(len(leads))*20, len(leads))
		}
	}
	o.telemetry.StageCompleted("generate", time.Since(stageStart))

	o.appendLog(hard, runID, runlog.StageExport, "🎉", fmt.Sprintf("Pipeline complete! %d leads ready with %d emails generated.", sum.leads, sum.emails), "")
	return sum, nil
}

func criteriaEmpty(p models.ParsedQuery) bool {
	return len(p.SearchQueries) == 0 && len(p.JobTitles) == 0 && len(p.SeniorityLevels) == 0 &&
		len(p.Locations) == 0 && p.Industry == "" && p.CompanySize == ""
}

func criteriaSummary(p models.ParsedQuery) string {
	switch {
	case len(p.SearchQueries) > 0:
		return fmt.Sprintf("%d search queries", len(p.SearchQueries))
	case len(p.JobTitles) > 0:
		return "titles: " + strings.Join(firstN(p.JobTitles, 3), ", ")
	case len(p.Locations) > 0:
		return "locations: " + strings.Join(firstN(p.Locations, 3), ", ")
	default:
		return "ready to search"
	}
}

func contactLine(c models.Contact, domain string) string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		name = c.CompanyName
	}
	if name == "" {
		name = "Contact"
	}
	if c.Title != "" {
		return fmt.Sprintf("Found: %s - %s at %s", name, c.Title, domain)
	}
	return fmt.Sprintf("Found: %s at %s", name, domain)
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
