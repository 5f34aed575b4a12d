package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/blackboard-training/api/internal/vies"
)

// ErrInvalidVATFormat indicates the submitted VAT number cannot belong to any
// supported member state.
var ErrInvalidVATFormat = errors.New("vat: invalid format")

// vatFormats holds per-member-state syntax rules used when the registry
// cannot be reached. Syntax-only: a well-formed number may still be bogus.
var vatFormats = map[string]*regexp.Regexp{
	"AT": regexp.MustCompile(`^U\d{8}$`),
	"BE": regexp.MustCompile(`^[01]\d{9}$`),
	"BG": regexp.MustCompile(`^\d{9,10}$`),
	"CY": regexp.MustCompile(`^\d{8}[A-Z]$`),
	"CZ": regexp.MustCompile(`^\d{8,10}$`),
	"DE": regexp.MustCompile(`^\d{9}$`),
	"DK": regexp.MustCompile(`^\d{8}$`),
	"EE": regexp.MustCompile(`^\d{9}$`),
	"EL": regexp.MustCompile(`^\d{9}$`),
	"ES": regexp.MustCompile(`^[A-Z0-9]\d{7}[A-Z0-9]$`),
	"FI": regexp.MustCompile(`^\d{8}$`),
	"FR": regexp.MustCompile(`^[A-Z0-9]{2}\d{9}$`),
	"HR": regexp.MustCompile(`^\d{11}$`),
	"HU": regexp.MustCompile(`^\d{8}$`),
	"IE": regexp.MustCompile(`^\d{7}[A-Z]{1,2}$|^\d[A-Z0-9+*]\d{5}[A-Z]$`),
	"IT": regexp.MustCompile(`^\d{11}$`),
	"LT": regexp.MustCompile(`^(\d{9}|\d{12})$`),
	"LU": regexp.MustCompile(`^\d{8}$`),
	"LV": regexp.MustCompile(`^\d{11}$`),
	"MT": regexp.MustCompile(`^\d{8}$`),
	"NL": regexp.MustCompile(`^\d{9}B\d{2}$`),
	"PL": regexp.MustCompile(`^\d{10}$`),
	"PT": regexp.MustCompile(`^\d{9}$`),
	"RO": regexp.MustCompile(`^\d{2,10}$`),
	"SE": regexp.MustCompile(`^\d{12}$`),
	"SI": regexp.MustCompile(`^\d{8}$`),
	"SK": regexp.MustCompile(`^\d{10}$`),
}

// VATValidation is the outcome of checking a VAT number for reverse charge.
type VATValidation struct {
	Valid       bool
	Exempt      bool
	CountryCode string
	VATNumber   string
	Name        string
	// UsedFallback is true when the registry was unreachable and only the
	// number's syntax was checked.
	UsedFallback bool
}

type vatRegistry interface {
	CheckVAT(ctx context.Context, countryCode, vatNumber string) (vies.Result, error)
}

// VATServiceDeps collects the dependencies for NewVATService.
type VATServiceDeps struct {
	Registry    vatRegistry
	HomeCountry string
	Logger      Logger
}

// VATService resolves whether an order qualifies for a reverse-charge VAT
// exemption based on the buyer's VAT registration.
type VATService struct {
	registry    vatRegistry
	homeCountry string
	logger      Logger
}

// NewVATService validates dependencies and constructs a VATService.
func NewVATService(deps VATServiceDeps) (*VATService, error) {
	if deps.Registry == nil {
		return nil, errors.New("vat: registry is required")
	}
	home := strings.ToUpper(strings.TrimSpace(deps.HomeCountry))
	if home == "" {
		return nil, errors.New("vat: home country is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &VATService{
		registry:    deps.Registry,
		homeCountry: home,
		logger:      logger,
	}, nil
}

// Validate checks a full VAT id ("ATU12345678"). Registry outages degrade to
// syntax checking instead of blocking checkout. Home-country registrations
// are never exempt regardless of validity.
func (s *VATService) Validate(ctx context.Context, vatID string) (VATValidation, error) {
	country, number, err := splitVATID(vatID)
	if err != nil {
		return VATValidation{}, err
	}

	result := VATValidation{CountryCode: country, VATNumber: number}

	lookup, lookupErr := s.registry.CheckVAT(ctx, country, number)
	switch {
	case lookupErr == nil:
		result.Valid = lookup.Valid
		result.Name = lookup.Name
	case errors.Is(lookupErr, vies.ErrUnavailable):
		s.logger(ctx, "vat.registry.unavailable", map[string]any{
			"country": country,
			"error":   lookupErr.Error(),
		})
		result.Valid = matchesFormat(country, number)
		result.UsedFallback = true
	default:
		return VATValidation{}, lookupErr
	}

	result.Exempt = result.Valid && country != s.homeCountry

	s.logger(ctx, "vat.validated", map[string]any{
		"country":      country,
		"valid":        result.Valid,
		"exempt":       result.Exempt,
		"usedFallback": result.UsedFallback,
	})
	return result, nil
}

func splitVATID(vatID string) (string, string, error) {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(vatID), ""))
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	if len(cleaned) < 4 {
		return "", "", ErrInvalidVATFormat
	}
	country := cleaned[:2]
	// Greece uses EL as its VAT prefix
	if country == "GR" {
		country = "EL"
	}
	if _, ok := vatFormats[country]; !ok {
		return "", "", ErrInvalidVATFormat
	}
	return country, cleaned[2:], nil
}

func matchesFormat(country, number string) bool {
	pattern, ok := vatFormats[country]
	return ok && pattern.MatchString(number)
}
