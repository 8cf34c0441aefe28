// Package seoudi extracts product data from Seoudi Supermarket category
// pages. Seoudi renders listings client-side from a GraphQL endpoint, so
// extraction does not parse the DOM: it captures the "Products" API
// responses the page fires while load-more is clicked, filters them down
// to the current category, and counts products from the JSON payloads.
package seoudi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/archive"
	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

const (
	productsFragment   = "Products"
	loadMoreSelector   = `button[type="button"].mt-8.text-primary-700.border.rounded-full`
	outOfStockSelector = `div.OutOfStock`
)

// Config bounds the load-more loop and the payload filtering.
type Config struct {
	// MaxLoadMoreClicks caps the load-more loop. Default 50.
	MaxLoadMoreClicks int
	// MinPayloadBytes rejects captured responses smaller than this;
	// tiny payloads are empty pages or error envelopes. Default 2048.
	MinPayloadBytes int
}

func (c Config) withDefaults() Config {
	if c.MaxLoadMoreClicks <= 0 {
		c.MaxLoadMoreClicks = 50
	}
	if c.MinPayloadBytes <= 0 {
		c.MinPayloadBytes = 2048
	}
	return c
}

// Extractor implements scraper.Extractor for seoudisupermarket.com.
//
// It keeps the category UIDs seen on earlier targets so that cached
// responses replayed by the SPA for a previous category are not counted
// against the current one.
type Extractor struct {
	clicks   *ratelimit.ClickPacer
	sink     *archive.Archive
	cfg      Config
	logger   *zap.Logger
	seenUIDs map[string]struct{}
}

// New builds an Extractor. sink may be nil to skip payload archiving.
func New(clicks *ratelimit.ClickPacer, sink *archive.Archive, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		clicks:   clicks,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		seenUIDs: make(map[string]struct{}),
	}
}

// Extract navigates to the category page, exhausts the load-more button,
// and harvests the captured GraphQL responses.
func (e *Extractor) Extract(ctx context.Context, sess scraper.Session, target scraper.Target) scraper.Outcome {
	capture := sess.CaptureResponses(productsFragment)
	defer capture.Stop()

	if err := sess.Navigate(ctx, target.URL); err != nil {
		return scraper.FailureOutcome(scraper.KindForError(err), fmt.Sprintf("navigate: %v", err))
	}

	clicks, err := e.loadAllProducts(ctx, sess)
	if err != nil {
		return scraper.Outcome{
			PagesScraped: clicks,
			ErrKind:      scraper.KindForError(err),
			ErrMessage:   fmt.Sprintf("load products: %v", err),
		}
	}

	found, pages, currentUID := e.harvest(capture.Responses(), target)
	if currentUID != "" {
		e.seenUIDs[currentUID] = struct{}{}
	}

	if pages == 0 {
		return scraper.FailureOutcome(scraper.KindStructureChanged,
			"no product responses captured for this category")
	}

	e.logger.Info("seoudi category harvested",
		zap.Int64("serial", target.Serial),
		zap.String("category_uid", currentUID),
		zap.Int("payloads", pages),
		zap.Int("products", found),
		zap.Int("load_more_clicks", clicks))
	return scraper.SuccessOutcome(found, pages)
}

// loadAllProducts clicks load-more until the button disappears, the
// listing reports out of stock, or the click cap is hit. Returns the
// number of clicks performed. Both markers are checked with the
// non-waiting QueryText: on most iterations they are absent, and a
// waiting lookup would stall each cycle until the navigation timeout.
func (e *Extractor) loadAllProducts(ctx context.Context, sess scraper.Session) (int, error) {
	clicks := 0
	for clicks < e.cfg.MaxLoadMoreClicks {
		if err := ctx.Err(); err != nil {
			return clicks, err
		}
		if err := sess.ScrollToBottom(ctx); err != nil {
			return clicks, fmt.Errorf("scroll: %w", err)
		}

		// Out of stock marks the tail of the listing; no further pages
		// will load.
		if text, found, err := sess.QueryText(ctx, outOfStockSelector); err == nil &&
			found && strings.Contains(text, "Out of stock") {
			break
		}

		if _, found, err := sess.QueryText(ctx, loadMoreSelector); err != nil {
			return clicks, fmt.Errorf("query load more: %w", err)
		} else if !found {
			// Button gone: everything is loaded.
			break
		}

		e.clicks.Wait(ctx)
		if err := sess.Click(ctx, loadMoreSelector); err != nil {
			// Button vanished between the check and the click.
			break
		}
		clicks++
	}
	return clicks, nil
}

// harvest filters the captured responses down to the current category
// and counts products. The first acceptable payload pins the category
// UID for this target; payloads carrying other UIDs are discarded.
func (e *Extractor) harvest(responses []scraper.CapturedResponse, target scraper.Target) (found, pages int, currentUID string) {
	seenURLs := make(map[string]struct{})
	for _, resp := range responses {
		if resp.Status != 200 {
			continue
		}
		if len(resp.Body) < e.cfg.MinPayloadBytes {
			continue
		}
		if _, dup := seenURLs[resp.URL]; dup {
			continue
		}
		seenURLs[resp.URL] = struct{}{}

		uid := categoryUID(resp.URL)
		if uid == "" {
			e.logger.Debug("payload without category uid", zap.String("url", resp.URL))
			continue
		}
		if _, seen := e.seenUIDs[uid]; seen {
			continue
		}
		if currentUID == "" {
			currentUID = uid
		}
		if uid != currentUID {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			e.logger.Warn("undecodable products payload",
				zap.String("url", resp.URL), zap.Error(err))
			continue
		}

		found += countProducts(payload)
		pages++
		e.archivePayload(target, uid, resp)
	}
	return found, pages, currentUID
}

func (e *Extractor) archivePayload(target scraper.Target, uid string, resp scraper.CapturedResponse) {
	if e.sink == nil {
		return
	}
	path := fmt.Sprintf("seoudi/serial-%d/%s_page%d.json", target.Serial, uid, requestPage(resp.URL))
	uri, err := e.sink.Put(path, resp.Body)
	if err != nil {
		e.logger.Warn("archive payload failed", zap.String("path", path), zap.Error(err))
		return
	}
	e.logger.Debug("payload archived", zap.String("uri", uri))
}

// graphqlVariables is the slice of the GraphQL query variables the
// filters care about.
type graphqlVariables struct {
	Page    int `json:"currentPage"`
	AltPage int `json:"page"`
	Filter  struct {
		CategoryUID struct {
			Eq string `json:"eq"`
		} `json:"category_uid"`
	} `json:"filter"`
}

func parseVariables(rawURL string) (graphqlVariables, bool) {
	var vars graphqlVariables
	u, err := url.Parse(rawURL)
	if err != nil {
		return vars, false
	}
	encoded := u.Query().Get("variables")
	if encoded == "" {
		return vars, false
	}
	if err := json.Unmarshal([]byte(encoded), &vars); err != nil {
		return vars, false
	}
	return vars, true
}

// categoryUID pulls filter.category_uid.eq out of the request's
// variables parameter, empty when absent.
func categoryUID(rawURL string) string {
	vars, ok := parseVariables(rawURL)
	if !ok {
		return ""
	}
	return vars.Filter.CategoryUID.Eq
}

// requestPage reads the page number from the request variables, 1 when
// absent.
func requestPage(rawURL string) int {
	vars, ok := parseVariables(rawURL)
	if !ok {
		return 1
	}
	if vars.Page > 0 {
		return vars.Page
	}
	if vars.AltPage > 0 {
		return vars.AltPage
	}
	return 1
}

// countProducts walks the known response shapes and returns the number
// of product entries. Seoudi aliases nodes as items under
// data.connection; older shapes put lists directly under data.
func countProducts(payload map[string]any) int {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return listLen(payload, "products", "items")
	}

	if conn, ok := data["connection"].(map[string]any); ok {
		for _, v := range conn {
			inner, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if n := listLen(inner, "items", "nodes"); n > 0 {
				return n
			}
		}
	}

	for _, key := range []string{"products", "items", "results", "productSearch", "searchProducts"} {
		switch v := data[key].(type) {
		case []any:
			return len(v)
		case map[string]any:
			if n := listLen(v, "items", "nodes"); n > 0 {
				return n
			}
		}
	}
	return 0
}

func listLen(m map[string]any, keys ...string) int {
	for _, key := range keys {
		if list, ok := m[key].([]any); ok {
			return len(list)
		}
	}
	return 0
}
