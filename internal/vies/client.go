package vies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable indicates the VIES service could not give an answer. The
// caller is expected to degrade to format-only validation.
var ErrUnavailable = errors.New("vies: service unavailable")

// Result is the outcome of a VIES registry lookup.
type Result struct {
	Valid       bool
	CountryCode string
	VATNumber   string
	Name        string
	Address     string
}

type checkVATRequest struct {
	CountryCode string `json:"countryCode"`
	VATNumber   string `json:"vatNumber"`
}

type checkVATResponse struct {
	CountryCode string `json:"countryCode"`
	VATNumber   string `json:"vatNumber"`
	Valid       bool   `json:"valid"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	UserError   string `json:"userError"`
}

// Config carries the connection settings for the VIES REST API.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client queries the EU VIES registry for VAT number validity.
type Client struct {
	http *resty.Client
}

// NewClient constructs a Client for the given VIES endpoint.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("vies: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient}, nil
}

// CheckVAT validates a VAT number against the registry. Registry outages
// surface as ErrUnavailable so callers can distinguish "invalid" from
// "unknown".
func (c *Client) CheckVAT(ctx context.Context, countryCode, vatNumber string) (Result, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	vatNumber = strings.TrimSpace(vatNumber)
	if countryCode == "" || vatNumber == "" {
		return Result{}, errors.New("vies: country code and vat number are required")
	}

	var out checkVATResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(checkVATRequest{CountryCode: countryCode, VATNumber: vatNumber}).
		SetResult(&out).
		Post("/check-vat-number")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}

	// the registry reports per-member-state outages in-band
	switch strings.ToUpper(strings.TrimSpace(out.UserError)) {
	case "", "VALID", "INVALID", "INVALID_INPUT":
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnavailable, out.UserError)
	}

	return Result{
		Valid:       out.Valid,
		CountryCode: countryCode,
		VATNumber:   vatNumber,
		Name:        strings.TrimSpace(out.Name),
		Address:     strings.TrimSpace(out.Address),
	}, nil
}
