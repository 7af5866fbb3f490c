package salesforce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func TestClassify_TransientFaults(t *testing.T) {
	transient := []string{
		"REQUEST_LIMIT_EXCEEDED: TotalRequests Limit exceeded",
		"SERVER_UNAVAILABLE: please retry",
		"UNABLE_TO_LOCK_ROW: record currently being processed",
		"503 Service Unavailable",
		"Post \"https://login.salesforce.com\": net/http: timeout awaiting response",
	}
	for _, msg := range transient {
		err := classify(errors.New(msg))
		assert.True(t, resilience.IsTransient(err), msg)
	}
}

func TestClassify_PermanentFaults(t *testing.T) {
	permanent := []string{
		"REQUIRED_FIELD_MISSING: [LastName]",
		"INVALID_SESSION_ID: Session expired or invalid",
		"MALFORMED_QUERY: unexpected token",
	}
	for _, msg := range permanent {
		err := classify(errors.New(msg))
		assert.False(t, resilience.IsTransient(err), msg)
	}

	assert.NoError(t, classify(nil))
}
