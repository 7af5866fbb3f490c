package salesforce

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records calls and plays back canned query results.
type fakeClient struct {
	lastSOQL    string
	queryResult []Account
	queryErr    error
}

func (f *fakeClient) Query(_ context.Context, soql string, out any) error {
	f.lastSOQL = soql
	if f.queryErr != nil {
		return f.queryErr
	}
	raw, _ := json.Marshal(f.queryResult)
	return json.Unmarshal(raw, out)
}

func (f *fakeClient) InsertOne(_ context.Context, _ string, _ map[string]any) (string, error) {
	return "001AAAAAAAAAAAA", nil
}

func (f *fakeClient) UpdateOne(_ context.Context, _ string, _ string, _ map[string]any) error {
	return nil
}

func TestFindAccountByDomain_Found(t *testing.T) {
	fc := &fakeClient{queryResult: []Account{{ID: "001XXXXXXXXXXXX", Name: "Acme"}}}

	account, err := FindAccountByDomain(context.Background(), fc, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Acme", account.Name)
	assert.Contains(t, fc.lastSOQL, "FROM Account")
	assert.Contains(t, fc.lastSOQL, "acme.com")
}

func TestFindAccountByDomain_NotFound(t *testing.T) {
	fc := &fakeClient{}

	account, err := FindAccountByDomain(context.Background(), fc, "nowhere.example")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escapeSoql("O'Brien"))
	assert.Equal(t, "plain", escapeSoql("plain"))
}
