package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"NeoLink-Agent/internal/capability"
)

const (
	defaultBaseURL  = "https://api.coingecko.com/api/v3"
	defaultCurrency = "usd"
	defaultTimeout  = 8 * time.Second
	// 免费接口约每分钟 30 次。
	defaultRatePerMinute = 30
)

// DefaultCoinIDs 将资产代码映射为 CoinGecko 的币种标识。
var DefaultCoinIDs = map[string]string{
	"ETH":  "ethereum",
	"BTC":  "bitcoin",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
}

// Config 描述 CoinGecko 价格接口的访问参数。
type Config struct {
	BaseURL       string
	APIKey        string
	Currency      string
	CoinIDs       map[string]string
	Timeout       time.Duration
	RatePerMinute int
}

// Client 通过 CoinGecko simple/price 接口查询价格。
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	coinIDs    map[string]string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient 根据配置创建价格客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	coinIDs := make(map[string]string, len(DefaultCoinIDs)+len(cfg.CoinIDs))
	for symbol, id := range DefaultCoinIDs {
		coinIDs[symbol] = id
	}
	for symbol, id := range cfg.CoinIDs {
		coinIDs[strings.ToUpper(symbol)] = id
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		currency:   currency,
		coinIDs:    coinIDs,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute/3+1),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Price 查询资产的最新价格与 24 小时涨跌幅。
func (c *Client) Price(ctx context.Context, symbol string) capability.Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	coinID, ok := c.coinIDs[symbol]
	if !ok {
		return capability.Failed(capability.ReasonNotFound, fmt.Errorf("不支持的资产 %s", symbol))
	}
	if !c.limiter.Allow() {
		return capability.Failed(capability.ReasonRateLimited, errors.New("超出本地价格查询频率限制"))
	}

	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", c.currency)
	query.Set("include_24hr_change", "true")
	query.Set("include_last_updated_at", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return capability.Failed(capability.ReasonUnavailable, fmt.Errorf("构建价格请求失败: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return capability.Failed(capability.ReasonOf(err), fmt.Errorf("请求价格接口失败: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return capability.Failed(capability.ReasonRateLimited, errors.New("价格接口限流"))
	case resp.StatusCode == http.StatusNotFound:
		return capability.Failed(capability.ReasonNotFound, fmt.Errorf("价格接口未找到 %s", coinID))
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return capability.Failed(capability.ReasonUnavailable,
			fmt.Errorf("价格接口返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return capability.Failed(capability.ReasonMalformed, fmt.Errorf("解析价格响应失败: %w", err))
	}
	quote, ok := decoded[coinID]
	if !ok || len(quote) == 0 {
		return capability.Failed(capability.ReasonNotFound, fmt.Errorf("价格响应中没有 %s", coinID))
	}
	price, ok := quote[c.currency]
	if !ok {
		return capability.Failed(capability.ReasonMalformed, fmt.Errorf("价格响应缺少 %s 报价", c.currency))
	}

	sourceTime := time.Now()
	if ts := quote["last_updated_at"]; ts > 0 {
		sourceTime = time.Unix(int64(ts), 0)
	}
	res := capability.Ok(price, strings.ToUpper(c.currency), sourceTime).WithSource("coingecko")
	if change, ok := quote[c.currency+"_24h_change"]; ok {
		res = res.WithChange24h(change)
	}
	return res
}

var _ capability.PriceProvider = (*Client)(nil)
