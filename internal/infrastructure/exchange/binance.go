package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vitos/alpha_monitor/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BinanceSpotURL    = "https://api.binance.com/api/v3"
	BinanceFuturesURL = "https://fapi.binance.com/fapi/v1"
	BinanceAlphaURL   = "https://www.binance.com/bapi/defi/v1/public/wallet-direct/buw/wallet/cex/alpha/all/token/list"

	alphaSuccessCode = "000000"
	quoteAsset       = "USDT"
)

type futuresSymbol struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	QuoteAsset  string `json:"quoteAsset"`
	OnboardDate int64  `json:"onboardDate"`
}

// BinanceClient implements domain.MarketDataClient against the Binance
// alpha token list and the spot and USDT-M futures REST APIs.
type BinanceClient struct {
	spotURL    string
	futuresURL string
	alphaURL   string
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	infoTTL     time.Duration
	infoMu      sync.Mutex
	futuresInfo map[string]futuresSymbol
	infoFetched time.Time
	timeNow     func() time.Time
}

type Option func(*BinanceClient)

func WithTimeout(d time.Duration) Option {
	return func(b *BinanceClient) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *BinanceClient) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRateLimit caps outbound requests per second across all calls.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(b *BinanceClient) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithExchangeInfoTTL sets how long the futures listing table is reused.
func WithExchangeInfoTTL(d time.Duration) Option {
	return func(b *BinanceClient) {
		b.infoTTL = d
	}
}

func WithEndpoints(spotURL, futuresURL, alphaURL string) Option {
	return func(b *BinanceClient) {
		if spotURL != "" {
			b.spotURL = strings.TrimRight(spotURL, "/")
		}
		if futuresURL != "" {
			b.futuresURL = strings.TrimRight(futuresURL, "/")
		}
		if alphaURL != "" {
			b.alphaURL = alphaURL
		}
	}
}

func NewBinanceClient(opts ...Option) *BinanceClient {
	b := &BinanceClient{
		spotURL:    BinanceSpotURL,
		futuresURL: BinanceFuturesURL,
		alphaURL:   BinanceAlphaURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		logger:     zap.NewNop(),
		infoTTL:    5 * time.Minute,
		timeNow:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// absentStatus reports HTTP statuses that mean "no data" rather than failure:
// 451 is a geo-restriction, 400/404 an unknown symbol.
func absentStatus(code int) bool {
	return code == http.StatusUnavailableForLegalReasons ||
		code == http.StatusBadRequest ||
		code == http.StatusNotFound
}

// get performs a rate limited GET. A nil body with a nil error means absent.
func (b *BinanceClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if absentStatus(resp.StatusCode) {
		b.logger.Debug("No data from upstream", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("binance API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func pair(symbol string) string {
	return strings.ToUpper(symbol) + quoteAsset
}

// ListAssetUniverse returns the alpha token list with the figures it reports.
func (b *BinanceClient) ListAssetUniverse(ctx context.Context) ([]domain.UniverseAsset, error) {
	body, err := b.get(ctx, b.alphaURL)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("binance alpha list: invalid JSON")
	}

	root := gjson.ParseBytes(body)
	if code := root.Get("code").String(); code != alphaSuccessCode {
		return nil, fmt.Errorf("binance alpha list: code %s: %s", code, root.Get("message").String())
	}

	var assets []domain.UniverseAsset
	seen := make(map[string]bool)
	root.Get("data").ForEach(func(_, item gjson.Result) bool {
		symbol := strings.ToUpper(strings.TrimSpace(item.Get("symbol").String()))
		if symbol == "" || seen[symbol] {
			return true
		}
		seen[symbol] = true

		asset := domain.UniverseAsset{
			Symbol:            symbol,
			Name:              item.Get("name").String(),
			Price:             optFloat(item.Get("price")),
			Volume24h:         optFloat(item.Get("volume24h")),
			PercentChange24h:  optFloat(item.Get("percentChange24h")),
			MarketCap:         optFloat(item.Get("marketCap")),
			CirculatingSupply: optFloat(item.Get("circulatingSupply")),
			TotalSupply:       optFloat(item.Get("totalSupply")),
			FDV:               optFloat(item.Get("fdv")),
		}
		if ms := item.Get("listingTime").Int(); ms > 0 {
			t := time.UnixMilli(ms).UTC()
			asset.ListedAt = &t
		}
		assets = append(assets, asset)
		return true
	})
	return assets, nil
}

// optFloat accepts both numbers and numeric strings; empty or unparsable values are absent.
func optFloat(r gjson.Result) *float64 {
	switch r.Type {
	case gjson.Number:
		return domain.Float(r.Float())
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return nil
		}
		return domain.Float(v)
	}
	return nil
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (b *BinanceClient) ticker(ctx context.Context, baseURL, symbol string) (*ticker24h, error) {
	body, err := b.get(ctx, baseURL+"/ticker/24hr?symbol="+url.QueryEscape(pair(symbol)))
	if err != nil || body == nil {
		return nil, err
	}
	var t ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}
	return &t, nil
}

// GetTicker returns the spot 24h ticker, volume in quote currency.
func (b *BinanceClient) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	t, err := b.ticker(ctx, b.spotURL, symbol)
	if err != nil || t == nil {
		return nil, err
	}
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %s: %w", symbol, err)
	}
	volume, _ := strconv.ParseFloat(t.QuoteVolume, 64)
	change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	return &domain.Ticker{
		Symbol:           symbol,
		LastPrice:        price,
		Volume24h:        volume,
		PercentChange24h: change,
	}, nil
}

func (b *BinanceClient) listings(ctx context.Context) (map[string]futuresSymbol, error) {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()

	if b.futuresInfo != nil && b.timeNow().Sub(b.infoFetched) < b.infoTTL {
		return b.futuresInfo, nil
	}

	body, err := b.get(ctx, b.futuresURL+"/exchangeInfo")
	if err != nil || body == nil {
		return nil, err
	}
	var info struct {
		Symbols []futuresSymbol `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode futures exchange info: %w", err)
	}

	listed := make(map[string]futuresSymbol, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && s.QuoteAsset == quoteAsset {
			listed[s.Symbol] = s
		}
	}
	b.futuresInfo = listed
	b.infoFetched = b.timeNow()
	return listed, nil
}

// GetDerivativeStatus reports whether a USDT perpetual trades for symbol.
// Open interest is left for GetOpenInterest.
func (b *BinanceClient) GetDerivativeStatus(ctx context.Context, symbol string) (*domain.DerivativeSummary, error) {
	listed, err := b.listings(ctx)
	if err != nil || listed == nil {
		return nil, err
	}
	info, ok := listed[pair(symbol)]
	if !ok {
		return &domain.DerivativeSummary{Listed: false}, nil
	}

	t, err := b.ticker(ctx, b.futuresURL, symbol)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &domain.DerivativeSummary{Listed: false}, nil
	}

	d := &domain.DerivativeSummary{Listed: true}
	if info.OnboardDate > 0 {
		at := time.UnixMilli(info.OnboardDate).UTC()
		d.ListedAt = &at
	}
	if p, err := strconv.ParseFloat(t.LastPrice, 64); err == nil {
		d.Price = domain.Float(p)
	}
	if v, err := strconv.ParseFloat(t.QuoteVolume, 64); err == nil {
		d.Volume24h = domain.Float(v)
	}
	return d, nil
}

// GetOpenInterest returns open interest as a contract count.
func (b *BinanceClient) GetOpenInterest(ctx context.Context, symbol string) (*float64, error) {
	body, err := b.get(ctx, b.futuresURL+"/openInterest?symbol="+url.QueryEscape(pair(symbol)))
	if err != nil || body == nil {
		return nil, err
	}
	var result struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode open interest %s: %w", symbol, err)
	}
	v, err := strconv.ParseFloat(result.OpenInterest, 64)
	if err != nil {
		return nil, nil
	}
	return &v, nil
}
