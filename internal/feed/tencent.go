package feed

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/models"
	"fundwatch/pkg/utils"
)

const confirmationReferer = "https://gu.qq.com/"

var tencentPattern = regexp.MustCompile(`v_jj\d+="(.+)"`)

// Field positions in the ~-separated record.
const (
	fieldValue  = 5
	fieldChange = 7
	fieldDate   = 8
)

// ConfirmationClient fetches confirmed values from the Tencent quote feed.
type ConfirmationClient struct {
	source
	baseURL string
}

// NewConfirmationClient creates a ConfirmationClient from the feeds configuration.
func NewConfirmationClient(cfg config.FeedsConfig, logger zerolog.Logger) *ConfirmationClient {
	return &ConfirmationClient{
		source:  newSource("confirmation", confirmationReferer, cfg, logger),
		baseURL: strings.TrimRight(cfg.ConfirmationURL, "/") + "/",
	}
}

// FetchConfirmation implements ConfirmationSource.
func (c *ConfirmationClient) FetchConfirmation(ctx context.Context, code string) (*models.Confirmation, error) {
	body, err := c.get(ctx, code, c.baseURL+"q=jj"+code)
	if err != nil {
		return nil, err
	}

	// The feed is GBK encoded
	utf8Body, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return nil, apperrors.NewSourceError(c.name, code, "decode GBK", err)
	}
	return ParseConfirmation(code, utf8Body)
}

// ParseConfirmation decodes a UTF-8 v_jj<code>="...~..." record.
func ParseConfirmation(code string, body []byte) (*models.Confirmation, error) {
	m := tencentPattern.FindSubmatch(body)
	if m == nil {
		return nil, apperrors.NewSourceError("confirmation", code, "no v_jj record", apperrors.ErrUnparseable)
	}

	parts := strings.Split(string(m[1]), "~")
	if len(parts) <= fieldDate {
		return nil, apperrors.NewSourceError("confirmation", code, "short record", apperrors.ErrNoData)
	}

	date := strings.TrimSpace(parts[fieldDate])
	if len(date) > 10 {
		date = date[:10]
	}

	return &models.Confirmation{
		Code:               code,
		ConfirmedValue:     utils.ParseOptionalFloat(parts[fieldValue]),
		ConfirmedValueDate: date,
		ChangePercent:      utils.ParseOptionalFloat(parts[fieldChange]),
	}, nil
}
