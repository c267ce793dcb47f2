// Package feed drains a paginated upstream source into memory.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"web/featuremap/feature"
	"web/featuremap/logger"
	"web/featuremap/metrics"
)

type Options struct {
	// Timeout bounds each page request. Default 20s.
	Timeout time.Duration
	// MaxPages aborts the cycle with ErrPageLimit once exceeded. Zero means
	// no ceiling.
	MaxPages  int
	UserAgent string
	Logger    *slog.Logger
}

type Fetcher struct {
	client *http.Client
	opts   Options
	log    *slog.Logger
}

// New returns a fetcher. A nil client uses http.DefaultClient; the per-page
// timeout is applied through the request context either way.
func New(opts Options, client *http.Client) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "featuremap/1.0"
	}
	if client == nil {
		client = http.DefaultClient
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	return &Fetcher{client: client, opts: opts, log: log}
}

// FetchAll follows next links from startURL until a page ends the sequence
// and returns every item in order. Any failing page aborts the whole cycle.
func (f *Fetcher) FetchAll(ctx context.Context, startURL string) ([]feature.RawRecord, error) {
	var out []feature.RawRecord
	next := startURL
	start := time.Now()

	for page := 1; next != ""; page++ {
		if f.opts.MaxPages > 0 && page > f.opts.MaxPages {
			metrics.FeedFailTotal.Inc()
			f.log.Error("feed_page_limit", "url", next, "max_pages", f.opts.MaxPages)
			return nil, &FetchError{URL: next, Page: page, Err: ErrPageLimit}
		}
		if page%100 == 0 {
			f.log.Warn("feed_many_pages", "page", page, "items", len(out))
		}

		p, err := f.fetchPage(ctx, next, page)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)

		if p.Next == "" {
			break
		}
		resolved, err := resolve(next, p.Next)
		if err != nil {
			metrics.FeedFailTotal.Inc()
			return nil, &FetchError{URL: next, Page: page, Err: fmt.Errorf("bad next link %q: %w", p.Next, err)}
		}
		next = resolved
	}

	f.log.Info("feed_done", "url", startURL, "items", len(out), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, u string, page int) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	fail := func(status int, err error) (Page, error) {
		metrics.FeedFailTotal.Inc()
		f.log.Error("feed_page_error", "url", u, "page", page, "status", status, "err", err)
		return Page{}, &FetchError{URL: u, Page: page, StatusCode: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd, gzip")
	req.Header.Set("User-Agent", f.opts.UserAgent)

	t0 := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	body, err := readBody(resp)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	p, err := DecodePage(body)
	if err != nil {
		return fail(resp.StatusCode, err)
	}

	dur := time.Since(t0).Milliseconds()
	metrics.FeedPagesTotal.Inc()
	metrics.FeedItemsTotal.Add(float64(len(p.Items)))
	metrics.FeedPageDurationMs.Observe(float64(dur))
	f.log.Debug("feed_page", "url", u, "page", page, "shape", p.Shape, "items", len(p.Items), "next", p.Next != "", "duration_ms", dur)
	return p, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(resp.Body)
}
