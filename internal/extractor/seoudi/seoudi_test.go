package seoudi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// spaSession simulates the client-rendered listing: Click on the
// load-more button succeeds a fixed number of times, then fails, and
// the captured responses are handed back through a canned capture.
type spaSession struct {
	loadMoreRemaining int
	outOfStockAfter   int
	clicksDone        int
	waitingTextCalls  int
	responses         []scraper.CapturedResponse
	capture           *cannedCapture
	navErr            error
}

type cannedCapture struct {
	responses []scraper.CapturedResponse
	stopped   bool
}

func (c *cannedCapture) Responses() []scraper.CapturedResponse { return c.responses }
func (c *cannedCapture) Stop()                                 { c.stopped = true }

func (s *spaSession) Domain() string { return "seoudisupermarket.com" }

func (s *spaSession) Navigate(context.Context, string) error { return s.navErr }

func (s *spaSession) WaitVisible(context.Context, string) error { return nil }

func (s *spaSession) Click(_ context.Context, selector string) error {
	if s.clicksDone >= s.loadMoreRemaining {
		return fmt.Errorf("node not found: %s", selector)
	}
	s.clicksDone++
	return nil
}

func (s *spaSession) ScrollToBottom(context.Context) error { return nil }

func (s *spaSession) HTML(context.Context) (string, error) { return "", nil }

// Text is the waiting lookup; the load-more loop checks for optional
// markers and must never use it.
func (s *spaSession) Text(_ context.Context, selector string) (string, error) {
	s.waitingTextCalls++
	return "", fmt.Errorf("node not found: %s", selector)
}

func (s *spaSession) QueryText(_ context.Context, selector string) (string, bool, error) {
	switch selector {
	case outOfStockSelector:
		if s.outOfStockAfter > 0 && s.clicksDone >= s.outOfStockAfter {
			return "Out of stock", true, nil
		}
	case loadMoreSelector:
		if s.clicksDone < s.loadMoreRemaining {
			return "Load More", true, nil
		}
	}
	return "", false, nil
}

func (s *spaSession) CaptureResponses(string) scraper.ResponseCapture {
	s.capture = &cannedCapture{responses: s.responses}
	return s.capture
}

func (s *spaSession) LastActivity() time.Time { return time.Time{} }
func (s *spaSession) Touch(time.Time)         {}

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}

func newExtractor(cfg Config) *Extractor {
	clicks := ratelimit.NewClickPacer(
		ratelimit.Range{Min: time.Second, Max: time.Second},
		func() float64 { return 0 }, noPause{})
	return New(clicks, nil, cfg, nil)
}

// productsResponse builds a captured GraphQL response with the given
// category UID, page and item count, padded past the size filter.
func productsResponse(uid string, page, items int) scraper.CapturedResponse {
	list := make([]map[string]any, items)
	for i := range list {
		list[i] = map[string]any{
			"name": fmt.Sprintf("Product %d", i),
			"sku":  fmt.Sprintf("SKU-%s-%d-%d", uid, page, i),
		}
	}
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"connection": map[string]any{
				"products": map[string]any{
					"items":     list,
					"page_info": strings.Repeat("x", 4096),
				},
			},
		},
	})

	vars, _ := json.Marshal(map[string]any{
		"currentPage": page,
		"filter":      map[string]any{"category_uid": map[string]any{"eq": uid}},
	})
	u := "https://seoudisupermarket.com/graphql?query=Products&variables=" + url.QueryEscape(string(vars))

	return scraper.CapturedResponse{URL: u, Status: 200, Body: body}
}

func TestExtractCountsProductsFromCapturedPayloads(t *testing.T) {
	sess := &spaSession{
		loadMoreRemaining: 2,
		responses: []scraper.CapturedResponse{
			productsResponse("MTIz", 1, 20),
			productsResponse("MTIz", 2, 20),
			productsResponse("MTIz", 3, 7),
		},
	}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{Serial: 10, URL: "https://seoudisupermarket.com/dairy"})

	require.True(t, out.OK())
	require.Equal(t, 47, out.ProductsFound)
	require.Equal(t, 3, out.PagesScraped)
	require.True(t, sess.capture.stopped)
}

func TestExtractIgnoresPayloadsFromEarlierCategories(t *testing.T) {
	e := newExtractor(Config{})

	first := &spaSession{responses: []scraper.CapturedResponse{
		productsResponse("AAA", 1, 10),
	}}
	out := e.Extract(context.Background(), first,
		scraper.Target{Serial: 1, URL: "https://seoudisupermarket.com/a"})
	require.True(t, out.OK())

	// The SPA replays the cached AAA response alongside the new
	// category's payloads; only BBB may count.
	second := &spaSession{responses: []scraper.CapturedResponse{
		productsResponse("AAA", 1, 10),
		productsResponse("BBB", 1, 5),
	}}
	out = e.Extract(context.Background(), second,
		scraper.Target{Serial: 2, URL: "https://seoudisupermarket.com/b"})

	require.True(t, out.OK())
	require.Equal(t, 5, out.ProductsFound)
	require.Equal(t, 1, out.PagesScraped)
}

func TestExtractPinsFirstUIDAndDropsOthers(t *testing.T) {
	sess := &spaSession{responses: []scraper.CapturedResponse{
		productsResponse("AAA", 1, 8),
		productsResponse("ZZZ", 1, 99),
		productsResponse("AAA", 2, 8),
	}}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.True(t, out.OK())
	require.Equal(t, 16, out.ProductsFound)
	require.Equal(t, 2, out.PagesScraped)
}

func TestExtractFiltersStatusSizeAndDuplicates(t *testing.T) {
	good := productsResponse("AAA", 1, 6)

	failed := productsResponse("AAA", 2, 6)
	failed.Status = 500

	tiny := productsResponse("AAA", 3, 0)
	tiny.Body = []byte(`{"data":{}}`)

	sess := &spaSession{responses: []scraper.CapturedResponse{
		good, failed, tiny, good,
	}}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.True(t, out.OK())
	require.Equal(t, 6, out.ProductsFound)
	require.Equal(t, 1, out.PagesScraped)
}

func TestExtractNoPayloadsIsStructureChanged(t *testing.T) {
	sess := &spaSession{}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.False(t, out.OK())
	require.Equal(t, scraper.KindStructureChanged, out.ErrKind)
}

func TestExtractNavigationErrorClassified(t *testing.T) {
	sess := &spaSession{navErr: context.DeadlineExceeded}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.False(t, out.OK())
	require.Equal(t, scraper.KindTimeout, out.ErrKind)
}

func TestLoadMoreStopsOnOutOfStock(t *testing.T) {
	sess := &spaSession{
		loadMoreRemaining: 50,
		outOfStockAfter:   4,
		responses:         []scraper.CapturedResponse{productsResponse("AAA", 1, 3)},
	}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.True(t, out.OK())
	require.Equal(t, 4, sess.clicksDone)
}

func TestLoadMoreHonorsClickCap(t *testing.T) {
	sess := &spaSession{
		loadMoreRemaining: 100,
		responses:         []scraper.CapturedResponse{productsResponse("AAA", 1, 3)},
	}

	out := newExtractor(Config{MaxLoadMoreClicks: 5}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.True(t, out.OK())
	require.Equal(t, 5, sess.clicksDone)
}

func TestLoadMoreChecksMarkersWithoutWaiting(t *testing.T) {
	// Out-of-stock and load-more markers are absent on most iterations.
	// A waiting Text lookup would stall every cycle until the navigation
	// timeout, so the loop must only use the immediate QueryText.
	sess := &spaSession{
		loadMoreRemaining: 3,
		responses:         []scraper.CapturedResponse{productsResponse("AAA", 1, 3)},
	}

	out := newExtractor(Config{}).Extract(context.Background(), sess,
		scraper.Target{URL: "https://seoudisupermarket.com/a"})

	require.True(t, out.OK())
	require.Equal(t, 3, sess.clicksDone)
	require.Zero(t, sess.waitingTextCalls)
}

func TestCountProductsShapes(t *testing.T) {
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(
		`{"data":{"connection":{"products":{"nodes":[{},{},{}]}}}}`), &payload))
	require.Equal(t, 3, countProducts(payload))

	payload = nil
	require.NoError(t, json.Unmarshal([]byte(
		`{"data":{"products":[{},{}]}}`), &payload))
	require.Equal(t, 2, countProducts(payload))

	payload = nil
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{}]}`), &payload))
	require.Equal(t, 1, countProducts(payload))

	payload = nil
	require.NoError(t, json.Unmarshal([]byte(`{"data":{}}`), &payload))
	require.Zero(t, countProducts(payload))
}

func TestCategoryUID(t *testing.T) {
	vars := url.QueryEscape(`{"filter":{"category_uid":{"eq":"Nzk4"}}}`)
	uid := categoryUID("https://seoudisupermarket.com/graphql?variables=" + vars)
	require.Equal(t, "Nzk4", uid)

	require.Empty(t, categoryUID("https://seoudisupermarket.com/graphql"))
	require.Empty(t, categoryUID("https://seoudisupermarket.com/graphql?variables=not-json"))
}
