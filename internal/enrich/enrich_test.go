package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func TestHTTPProvider_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Acme Financial","industry":"Fintech","employees":250,"geo":"US"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "secret", 0)
	company, err := p.GetCompanyByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "Acme Financial", company.Name)
	assert.Equal(t, "Fintech", company.Industry)
	assert.Equal(t, 250, company.Employees)
	// Domain backfilled from the query.
	assert.Equal(t, "acme.com", company.Domain)
}

func TestHTTPProvider_NotFoundIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	company, err := p.GetCompanyByDomain(context.Background(), "unknown.example")
	require.NoError(t, err)
	assert.Nil(t, company)
}

func TestHTTPProvider_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	_, err := p.GetCompanyByDomain(context.Background(), "acme.com")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]*model.CompanyData{
		"acme.com": {Name: "Acme", Industry: "Fintech"},
	})

	company, err := p.GetCompanyByDomain(context.Background(), "ACME.com")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "Fintech", company.Industry)

	missing, err := p.GetCompanyByDomain(context.Background(), "other.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
