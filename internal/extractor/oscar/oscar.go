// Package oscar extracts product listings from Oscar Stores category
// pages. Oscar paginates with a ?page=N query parameter; extraction walks
// pages until one comes back without product cells, then validates the
// harvested count against the total the site itself reports.
package oscar

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

const (
	productCellSelector  = "div.col-md-3.col-sm-4.col-6.p-1"
	productCountSelector = "span.c_gray3.f-12.f-w_500.mx-1"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Config bounds the pagination walk and the count validation.
type Config struct {
	// MaxPages caps the pagination walk. Default 100.
	MaxPages int
	// CountTolerance is the fraction of the expected product count that
	// must be found for the target to pass validation. Default 0.8.
	CountTolerance float64
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.CountTolerance <= 0 {
		c.CountTolerance = 0.8
	}
	return c
}

// Extractor implements scraper.Extractor for oscarstores.com.
type Extractor struct {
	clicks *ratelimit.ClickPacer
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor. The click pacer throttles page turns.
func New(clicks *ratelimit.ClickPacer, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{clicks: clicks, cfg: cfg.withDefaults(), logger: logger}
}

// Extract walks the category's pages and counts product cells.
func (e *Extractor) Extract(ctx context.Context, sess scraper.Session, target scraper.Target) scraper.Outcome {
	var (
		expected   int
		found      int
		pages      int
		currentURL = target.URL
	)

	partial := func(kind scraper.ErrorKind, msg string) scraper.Outcome {
		return scraper.Outcome{
			ProductsFound: found,
			PagesScraped:  pages,
			ErrKind:       kind,
			ErrMessage:    msg,
		}
	}

	for {
		if pages > 0 {
			// Throttle page turns the same way a human paging through
			// the listing would.
			e.clicks.Wait(ctx)
			if ctx.Err() != nil {
				return partial(scraper.KindTimeout, ctx.Err().Error())
			}
		}

		if err := sess.Navigate(ctx, currentURL); err != nil {
			return partial(scraper.KindForError(err), fmt.Sprintf("navigate page %d: %v", pages+1, err))
		}
		if err := sess.ScrollToBottom(ctx); err != nil {
			e.logger.Warn("scroll failed", zap.String("url", currentURL), zap.Error(err))
		}

		html, err := sess.HTML(ctx)
		if err != nil {
			return partial(scraper.KindForError(err), fmt.Sprintf("read page %d: %v", pages+1, err))
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return partial(scraper.KindStructureChanged, fmt.Sprintf("parse page %d: %v", pages+1, err))
		}

		if pages == 0 {
			expected = totalProducts(doc)
			e.logger.Debug("expected product count",
				zap.Int64("serial", target.Serial), zap.Int("expected", expected))
		}

		cells := doc.Find(productCellSelector).Length()
		if cells == 0 {
			break
		}
		found += cells
		pages++
		e.logger.Debug("page scraped",
			zap.String("url", currentURL), zap.Int("products", cells))

		if pages >= e.cfg.MaxPages {
			e.logger.Warn("page cap reached", zap.String("url", currentURL))
			break
		}

		next, err := nextPageURL(currentURL)
		if err != nil {
			return partial(scraper.KindStructureChanged, fmt.Sprintf("next page url: %v", err))
		}
		currentURL = next
	}

	if pages == 0 {
		return partial(scraper.KindStructureChanged, "no product cells on first page")
	}
	if expected > 0 && float64(found) < float64(expected)*e.cfg.CountTolerance {
		return partial(scraper.KindValidationFailed,
			fmt.Sprintf("product count mismatch: expected %d, found %d", expected, found))
	}
	return scraper.SuccessOutcome(found, pages)
}

// totalProducts reads the site-reported product total from the count
// span. Zero means the span is missing or unparsable; validation is then
// skipped.
func totalProducts(doc *goquery.Document) int {
	text := strings.TrimSpace(doc.Find(productCountSelector).First().Text())
	match := digitsRe.FindString(text)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

// nextPageURL increments the page query parameter, adding page=2 when
// the URL has none.
func nextPageURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	q := u.Query()
	page := 1
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("page parameter %q: %w", v, err)
		}
	}
	q.Set("page", strconv.Itoa(page+1))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
