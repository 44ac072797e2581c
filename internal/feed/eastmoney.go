package feed

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/models"
	"fundwatch/pkg/utils"
)

const quoteReferer = "https://fund.eastmoney.com/"

var jsonpPattern = regexp.MustCompile(`(?s)jsonpgz\((.*)\)`)

// QuoteClient fetches intraday estimates from the Eastmoney estimate feed.
type QuoteClient struct {
	source
	baseURL string
	now     func() time.Time
}

// NewQuoteClient creates a QuoteClient from the feeds configuration.
func NewQuoteClient(cfg config.FeedsConfig, logger zerolog.Logger) *QuoteClient {
	return &QuoteClient{
		source:  newSource("quote", quoteReferer, cfg, logger),
		baseURL: strings.TrimRight(cfg.QuoteURL, "/") + "/",
		now:     time.Now,
	}
}

// quoteParams is the cache-busting query string the feed expects.
type quoteParams struct {
	RT int64 `url:"rt"`
}

// quotePayload mirrors the JSON inside jsonpgz(...). Every number is a string.
type quotePayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	Jzrq     string `json:"jzrq"`
	Dwjz     string `json:"dwjz"`
	Gsz      string `json:"gsz"`
	Gszzl    string `json:"gszzl"`
	Gztime   string `json:"gztime"`
}

// FetchQuote implements QuoteSource.
func (c *QuoteClient) FetchQuote(ctx context.Context, code string) (*models.Quote, error) {
	params, err := query.Values(quoteParams{RT: c.now().UnixMilli()})
	if err != nil {
		return nil, apperrors.NewSourceError(c.name, code, "encode query", err)
	}

	body, err := c.get(ctx, code, c.baseURL+code+".js?"+params.Encode())
	if err != nil {
		return nil, err
	}
	return ParseQuote(code, body)
}

// ParseQuote decodes a jsonpgz({...}) body.
func ParseQuote(code string, body []byte) (*models.Quote, error) {
	m := jsonpPattern.FindSubmatch(body)
	if m == nil {
		return nil, apperrors.NewSourceError("quote", code, "no jsonpgz wrapper", apperrors.ErrUnparseable)
	}

	raw := strings.TrimSpace(string(m[1]))
	if raw == "" {
		// Unknown codes come back as jsonpgz();
		return nil, apperrors.NewSourceError("quote", code, "empty payload", apperrors.ErrNoData)
	}

	var p quotePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperrors.NewSourceError("quote", code, "decode payload", apperrors.Wrap(apperrors.ErrUnparseable, err.Error()))
	}

	if p.FundCode != "" {
		code = p.FundCode
	}
	return &models.Quote{
		Code:                   code,
		Name:                   p.Name,
		EstimatedChangePercent: utils.ParseOptionalFloat(p.Gszzl),
		EstimatedValue:         utils.ParseOptionalFloat(p.Gsz),
		ConfirmedValue:         utils.ParseOptionalFloat(p.Dwjz),
		ConfirmedValueDate:     strings.TrimSpace(p.Jzrq),
		EstimateTimestamp:      strings.TrimSpace(p.Gztime),
	}, nil
}
