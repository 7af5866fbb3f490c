package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFieldValue(t *testing.T) {
	assert.Equal(t, `O\'Brien`, SanitizeFieldValue("O'Brien"))
	assert.Equal(t, `say \"hi\"`, SanitizeFieldValue(`say "hi"`))
	assert.Equal(t, `a\\b`, SanitizeFieldValue(`a\b`))
	assert.Equal(t, `line\nbreak`, SanitizeFieldValue("line\nbreak"))
	assert.Equal(t, "bellless", SanitizeFieldValue("bell\x07less"))
	assert.Equal(t, "plain", SanitizeFieldValue("plain"))
}

func TestSanitizeFields(t *testing.T) {
	out := SanitizeFields(map[string]any{
		"Name":  "Acme's",
		"Count": 3,
	})
	assert.Equal(t, `Acme\'s`, out["Name"])
	assert.Equal(t, 3, out["Count"])
}

func TestValidateCRMID(t *testing.T) {
	assert.NoError(t, ValidateCRMID("00Q123456789ABC"))
	assert.NoError(t, ValidateCRMID("00Q123456789ABCdef"))
	assert.Error(t, ValidateCRMID("short"))
	assert.Error(t, ValidateCRMID("00Q123456789ABCd"))     // 16 chars
	assert.Error(t, ValidateCRMID("00Q123456789AB!"))      // symbol
	assert.Error(t, ValidateCRMID("00Q123456789ABCdefXX")) // 20 chars
	assert.Error(t, ValidateCRMID(""))
}

func TestQueryBuilder(t *testing.T) {
	soql, err := NewQuery("Lead").
		Select("Id", "Email").
		WhereEquals("Email", "jane@acme.com").
		Limit(1).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT Id, Email FROM Lead WHERE Email = 'jane@acme.com' LIMIT 1", soql)
}

func TestQueryBuilder_EscapesValues(t *testing.T) {
	soql, err := NewQuery("Lead").
		Select("Id").
		WhereEquals("Email", "x' OR '1'='1").
		Build()
	require.NoError(t, err)
	assert.NotContains(t, soql, "x' OR")
	assert.Contains(t, soql, `x\' OR \'1\'=\'1`)
}

func TestQueryBuilder_RejectsBadIdentifiers(t *testing.T) {
	_, err := NewQuery("Lead").Select("Id; DROP TABLE").Build()
	assert.Error(t, err)

	_, err = NewQuery("Lead").Select("Id").WhereEquals("Email = '' OR", "x").Build()
	assert.Error(t, err)

	_, err = NewQuery("Lead;").Select("Id").Build()
	assert.Error(t, err)

	_, err = NewQuery("Lead").Build()
	assert.Error(t, err, "no fields selected")
}
