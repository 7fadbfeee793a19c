// Package arxiv is a thin adapter over the arXiv Atom query API. It
// translates a topic query into a declarative Search value and exposes
// results as a lazily paged iterator. No retries here: catalog failures
// surface unmodified to the caller.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arxiv-chatbot/models"
)

// Field prefixes understood by the arXiv query syntax.
const (
	FieldAll      = "all"
	FieldTitle    = "ti"
	FieldAuthor   = "au"
	FieldCategory = "cat"
	FieldJournal  = "jr"
	FieldAbstract = "abs"
	FieldReport   = "rn"
	FieldComment  = "co"
)

// Search is a declarative description of a catalog query. Building one
// performs no I/O; results come from Client.Results.
type Search struct {
	Query      string
	MaxResults int
}

// SimpleSearch builds a single-prefix search, relevance descending.
func SimpleSearch(query string, maxResults int, field string) Search {
	if field == "" {
		field = FieldAll
	}
	return Search{
		Query:      fmt.Sprintf("%s:%q", field, query),
		MaxResults: maxResults,
	}
}

// AdvancedSearch ANDs prefixed queries together and ANDNOTs the OR of
// the ignore list. Inputs must already carry field prefixes.
func AdvancedSearch(queries []string, ignore []string, maxResults int) Search {
	query := strings.Join(queries, " AND ")
	if len(ignore) > 0 {
		query = fmt.Sprintf("(%s) ANDNOT (%s)", query, strings.Join(ignore, " OR "))
	}
	return Search{Query: query, MaxResults: maxResults}
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

func NewClient(baseURL string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		pageSize:   pageSize,
	}
}

// Results returns a lazy iterator over the search's records in
// descending relevance order. Pages are fetched on demand.
func (c *Client) Results(ctx context.Context, search Search) *ResultIterator {
	return &ResultIterator{
		ctx:    ctx,
		client: c,
		search: search,
	}
}

// ResultIterator walks catalog results page by page. Usage mirrors
// database row iteration: for it.Next() { rec := it.Record() }; it.Err().
type ResultIterator struct {
	ctx     context.Context
	client  *Client
	search  Search
	buf     []models.PaperRecord
	pos     int
	served  int
	offset  int
	done    bool
	err     error
	current models.PaperRecord
}

func (it *ResultIterator) Next() bool {
	if it.err != nil || it.served >= it.search.MaxResults {
		return false
	}
	if it.pos >= len(it.buf) {
		if it.done || !it.fetchPage() {
			return false
		}
	}
	it.current = it.buf[it.pos]
	it.pos++
	it.served++
	return true
}

func (it *ResultIterator) Record() models.PaperRecord { return it.current }

func (it *ResultIterator) Err() error { return it.err }

func (it *ResultIterator) fetchPage() bool {
	want := it.search.MaxResults - it.served
	if want > it.client.pageSize {
		want = it.client.pageSize
	}
	if want <= 0 {
		return false
	}

	feed, err := it.client.queryPage(it.ctx, it.search.Query, it.offset, want)
	if err != nil {
		it.err = err
		return false
	}
	if len(feed.Entries) < want {
		// Catalog exhausted before MaxResults.
		it.done = true
	}
	it.offset += len(feed.Entries)

	it.buf = it.buf[:0]
	it.pos = 0
	for _, e := range feed.Entries {
		it.buf = append(it.buf, e.toRecord())
	}
	return len(it.buf) > 0
}

func (c *Client) queryPage(ctx context.Context, query string, start, max int) (*atomFeed, error) {
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", fmt.Sprintf("%d", start))
	params.Set("max_results", fmt.Sprintf("%d", max))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog query: unexpected status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode catalog feed: %w", err)
	}
	return &feed, nil
}

// PDFURL derives the downloadable-file locator from a detail-page
// locator by the fixed substitution .../abs/X -> .../pdf/X.
func PDFURL(absURL string) string {
	return strings.Replace(absURL, "/abs/", "/pdf/", 1)
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func (e atomEntry) toRecord() models.PaperRecord {
	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		authors = append(authors, strings.TrimSpace(a.Name))
	}
	published, _ := time.Parse(time.RFC3339, strings.TrimSpace(e.Published))

	entryURL := strings.TrimSpace(e.ID)
	id := entryURL
	if i := strings.LastIndex(entryURL, "/abs/"); i >= 0 {
		id = entryURL[i+len("/abs/"):]
	}

	return models.PaperRecord{
		ID:        id,
		EntryURL:  entryURL,
		PDFURL:    PDFURL(entryURL),
		Title:     strings.Join(strings.Fields(e.Title), " "),
		Authors:   authors,
		Published: published,
		Summary:   strings.TrimSpace(e.Summary),
	}
}
