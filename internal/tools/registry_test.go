package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, RegisterStandardTools(r, NewMockExecutorWithLatency(0, 0)))
	return r
}

func TestRegisterStandardTools_FullSurface(t *testing.T) {
	r := newTestRegistry(t)

	want := []string{
		"create_lead", "upsert_lead", "convert_lead", "update_lead_status",
		"update_lead_fields", "set_lead_score", "match_account", "create_contact",
		"link_contact_to_account", "create_opportunity", "update_opportunity_stage",
		"set_opportunity_value", "attach_campaign", "create_task", "log_activity",
		"add_note", "create_follow_up", "sync_firmographics",
	}
	assert.Len(t, r.Names(), len(want))
	for _, name := range want {
		assert.NotNil(t, r.Get(name), name)
	}
}

func TestRegister_GuardRejects(t *testing.T) {
	guard := func(name string) error {
		if strings.HasPrefix(name, "delete_") {
			return assert.AnError
		}
		return nil
	}
	r := NewRegistry(guard)

	err := r.Register(&Tool{Name: "delete_everything"})
	assert.Error(t, err)
	assert.Nil(t, r.Get("delete_everything"))
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(&Tool{Name: "upsert_lead"})
	assert.Error(t, err)
}

func TestExecute_SchemaValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	// Missing required email.
	_, err := r.Execute(ctx, "upsert_lead", map[string]any{"firstName": "Jane"})
	require.Error(t, err)
	assert.True(t, resilience.IsClientError(err), "schema failure is a client fault")

	// Malformed email.
	_, err = r.Execute(ctx, "upsert_lead", map[string]any{"email": "not-an-email"})
	assert.Error(t, err)

	// Score out of range.
	_, err = r.Execute(ctx, "set_lead_score", map[string]any{"leadId": "00Q1", "score": 150})
	assert.Error(t, err)

	// Unknown tool.
	_, err = r.Execute(ctx, "explode", nil)
	assert.Error(t, err)

	// Valid call reaches the executor.
	result, err := r.Execute(ctx, "upsert_lead", map[string]any{"email": "jane@acme.com"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Mock)
	assert.True(t, strings.HasPrefix(result.CRMRecordID, "00Q"))
}

func TestExecute_EmptyFieldMapsRejected(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Execute(ctx, "update_lead_fields", map[string]any{"leadId": "00Q1", "fields": map[string]any{}})
	assert.Error(t, err)

	_, err = r.Execute(ctx, "sync_firmographics", map[string]any{"leadId": "00Q1", "firmographics": map[string]any{}})
	assert.Error(t, err)
}

func TestMutatingTools_CoversWrites(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range r.Names() {
		if name == "match_account" {
			assert.False(t, MutatingTools[name])
			continue
		}
		assert.True(t, MutatingTools[name], name)
	}
}
