/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultFeedURL = "https://www.cwa.gov.tw/rss/forecast/36_01.xml"

	// maxBody bounds how much of any response is read.
	maxBody = 4 << 20
)

var (
	ErrFeedUnavailable     = errors.New("weather feed unavailable through every relay")
	ErrFallbackUnavailable = errors.New("fallback weather report unavailable")
)

// DefaultRelays are the CORS relays the feed is requested through. The
// feed URL is appended, query-escaped, to each prefix.
func DefaultRelays() []string {
	return []string{
		"https://api.allorigins.win/raw?url=",
		"https://cors-anywhere.herokuapp.com/",
		"https://api.codetabs.com/v1/proxy?quest=",
	}
}

type Options struct {
	FeedURL string
	Relays  []string

	// FallbackURL serves a JSON report used when no relay works.
	// Empty disables the fallback.
	FallbackURL string

	// CacheFor is how long a successful report is reused.
	CacheFor time.Duration

	Client *http.Client
	Now    func() time.Time
	Log    *slog.Logger

	// OnFetch is told which source produced each fresh report.
	OnFetch func(source string)
}

type Service struct {
	feed     string
	relays   []string
	fallback string
	cacheFor time.Duration
	client   *http.Client
	now      func() time.Time
	log      *slog.Logger
	onFetch  func(string)

	mu       sync.Mutex
	cached   Report
	cachedAt time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		feed:     opts.FeedURL,
		relays:   opts.Relays,
		fallback: opts.FallbackURL,
		cacheFor: opts.CacheFor,
		client:   opts.Client,
		now:      opts.Now,
		log:      opts.Log,
		onFetch:  opts.OnFetch,
	}

	if s.feed == "" {
		s.feed = DefaultFeedURL
	}
	if s.relays == nil {
		s.relays = DefaultRelays()
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.onFetch == nil {
		s.onFetch = func(string) {}
	}

	return s
}

func (s *Service) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// FetchFeed tries each relay in order and returns the items from the
// first response that parses.
func (s *Service) FetchFeed(ctx context.Context) ([]Item, error) {
	var errs []error

	for i, relay := range s.relays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.get(ctx, relay+url.QueryEscape(s.feed), "application/xml, text/xml, */*")
		if err == nil {
			var items []Item
			items, err = ParseFeed(data)
			if err == nil {
				s.log.Debug("fetched weather feed", "relay", relay, "items", len(items))
				return items, nil
			}
		}

		s.log.Warn("weather relay failed", "relay", i+1, "url", relay, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", relay, err))
	}

	return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, errors.Join(errs...))
}

type fallbackReport struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Weather     string  `json:"weather"`
	Icon        string  `json:"icon"`
	UpdateTime  string  `json:"update_time"`
	Status      string  `json:"status"`
	Error       string  `json:"error"`
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FetchFallback reads the pre-built JSON report. A report whose status
// is "error" counts as unavailable.
func (s *Service) FetchFallback(ctx context.Context) (Report, error) {
	if s.fallback == "" {
		return Report{}, fmt.Errorf("%w: not configured", ErrFallbackUnavailable)
	}

	data, err := s.get(ctx, s.fallback, "application/json")
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrFallbackUnavailable, err)
	}

	var f fallbackReport
	if err := json.Unmarshal(data, &f); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrFallbackUnavailable, err)
	}

	if f.Status == "error" {
		return Report{}, fmt.Errorf("%w: %s", ErrFallbackUnavailable, f.Error)
	}

	r := Report{
		Location:    f.Location,
		Weather:     f.Weather,
		Icon:        f.Icon,
		Temperature: formatNumber(f.Temperature),
		Humidity:    formatNumber(f.Humidity),
		UpdateTime:  f.UpdateTime,
		Source:      SourceFallback,
	}

	if r.Location == "" {
		r.Location = DefaultLocation
	}
	if r.Weather == "" {
		r.Weather = DefaultCondition
	}
	if r.Icon == "" {
		r.Icon = Icon(r.Weather)
	}

	return r, nil
}

// Report returns the current report, from the feed if any relay works
// and from the fallback otherwise.
func (s *Service) Report(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheFor > 0 && !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) < s.cacheFor {
		return s.cached, nil
	}

	r, err := s.fresh(ctx)
	if err != nil {
		return Report{}, err
	}

	s.cached, s.cachedAt = r, s.now()
	s.onFetch(r.Source)

	return r, nil
}

func (s *Service) fresh(ctx context.Context) (Report, error) {
	items, feedErr := s.FetchFeed(ctx)
	if feedErr == nil {
		it, err := Pick(items)
		if err == nil {
			return NewReport(it, s.now()), nil
		}
		feedErr = err
	}

	s.log.Warn("falling back to secondary weather report", "err", feedErr)

	r, err := s.FetchFallback(ctx)
	if err != nil {
		return Report{}, errors.Join(feedErr, err)
	}

	return r, nil
}
