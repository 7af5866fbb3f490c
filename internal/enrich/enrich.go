// Package enrich looks up firmographic data for a lead's email domain.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Provider returns firmographics for a company domain. A nil CompanyData with
// nil error means the domain is unknown.
type Provider interface {
	GetCompanyByDomain(ctx context.Context, domain string) (*model.CompanyData, error)
}

// HTTPProvider queries a JSON enrichment API.
type HTTPProvider struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(baseURL, key string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetCompanyByDomain fetches firmographics for the domain.
func (p *HTTPProvider) GetCompanyByDomain(ctx context.Context, domain string) (*model.CompanyData, error) {
	endpoint := fmt.Sprintf("%s/companies/find?domain=%s", p.baseURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: build request")
	}
	if p.key != "" {
		req.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "enrich: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.New(fmt.Sprintf("enrich: status %d", resp.StatusCode)), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.New(fmt.Sprintf("enrich: status %d", resp.StatusCode))
	}

	var company model.CompanyData
	if err := json.NewDecoder(resp.Body).Decode(&company); err != nil {
		return nil, eris.Wrap(err, "enrich: decode response")
	}
	if company.Domain == "" {
		company.Domain = domain
	}
	return &company, nil
}

// StaticProvider serves a fixed domain table; used for local runs and tests.
type StaticProvider struct {
	companies map[string]*model.CompanyData
}

// NewStaticProvider creates a provider over a fixed table keyed by domain.
func NewStaticProvider(companies map[string]*model.CompanyData) *StaticProvider {
	if companies == nil {
		companies = make(map[string]*model.CompanyData)
	}
	return &StaticProvider{companies: companies}
}

// GetCompanyByDomain returns the table entry for the domain, or nil.
func (p *StaticProvider) GetCompanyByDomain(_ context.Context, domain string) (*model.CompanyData, error) {
	return p.companies[strings.ToLower(domain)], nil
}
