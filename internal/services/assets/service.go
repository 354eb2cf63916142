package assets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ecliptica/pkg/errors"
	"ecliptica/pkg/logger"
)

const (
	futuresBaseURL     = "https://fapi.binance.com"
	defaultHTTPTimeout = 10 * time.Second
	defaultCacheTTL    = 15 * time.Minute
	suggestedCount     = 6
)

// Service lists tradeable perpetual symbols from Binance futures and
// validates user-typed tickers against them. The symbol list changes rarely,
// so one fetch is shared process-wide behind a short in-memory cache.
type Service struct {
	httpClient *http.Client
	cacheTTL   time.Duration

	mu        sync.RWMutex
	symbols   map[string]struct{}
	fetchedAt time.Time

	log *logger.Logger
}

// NewService creates a new asset listing service
func NewService() *Service {
	return &Service{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		cacheTTL:   defaultCacheTTL,
		symbols:    make(map[string]struct{}),
		log:        logger.Get().With("component", "assets"),
	}
}

// Suggested returns a short list of liquid base assets for quick-reply
// buttons. It never fails: when the exchange is unreachable a static list
// is returned.
func (s *Service) Suggested(ctx context.Context) []string {
	if err := s.refresh(ctx); err != nil {
		s.log.Warnw("asset list refresh failed, using static list", "error", err)
	}

	static := []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.symbols) == 0 {
		return static
	}

	out := make([]string, 0, suggestedCount)
	for _, base := range static {
		if _, ok := s.symbols[base+"USDT"]; ok {
			out = append(out, base)
		}
		if len(out) == suggestedCount {
			break
		}
	}
	if len(out) == 0 {
		return static
	}
	return out
}

// Validate normalizes a user-typed asset and reports whether a USDT
// perpetual exists for it. When the list cannot be fetched, any plausible
// ticker is accepted so the bot stays usable during exchange outages.
func (s *Service) Validate(ctx context.Context, input string) (string, bool) {
	asset := strings.ToUpper(strings.TrimSpace(input))
	asset = strings.TrimSuffix(asset, "USDT")
	asset = strings.TrimSuffix(asset, "/USDT")
	if asset == "" || len(asset) > 12 {
		return "", false
	}
	for _, r := range asset {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}

	if err := s.refresh(ctx); err != nil {
		return asset, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.symbols) == 0 {
		return asset, true
	}
	_, ok := s.symbols[asset+"USDT"]
	return asset, ok
}

// refresh refetches the symbol list when the cache has expired
func (s *Service) refresh(ctx context.Context) error {
	s.mu.RLock()
	fresh := time.Since(s.fetchedAt) < s.cacheTTL && len(s.symbols) > 0
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", futuresBaseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return errors.Wrap(err, "create exchange info request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrExternal, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrExternal, "binance API error (%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read exchange info response")
	}

	var info struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			ContractType string `json:"contractType"`
			Status       string `json:"status"`
			QuoteAsset   string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return errors.Wrap(err, "unmarshal exchange info")
	}

	symbols := make(map[string]struct{}, len(info.Symbols))
	names := make([]string, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.ContractType != "PERPETUAL" || sym.Status != "TRADING" || sym.QuoteAsset != "USDT" {
			continue
		}
		symbols[sym.Symbol] = struct{}{}
		names = append(names, sym.Symbol)
	}
	sort.Strings(names)

	s.mu.Lock()
	s.symbols = symbols
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	s.log.Debugw("asset list refreshed", "symbols", len(symbols))
	return nil
}
