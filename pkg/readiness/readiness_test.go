package readiness

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeGatesOnAllComponents(t *testing.T) {
	r := NewRegistry()
	r.RegisterComponent("evm")
	r.RegisterComponent("cosmos")

	probe := func() int {
		rec := httptest.NewRecorder()
		r.Handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusPreconditionFailed, probe())

	r.SetReady("evm")
	assert.Equal(t, http.StatusPreconditionFailed, probe())

	r.SetReady("cosmos")
	assert.Equal(t, http.StatusOK, probe())

	// Ready is sticky and idempotent.
	r.SetReady("cosmos")
	assert.Equal(t, http.StatusOK, probe())
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := NewRegistry()
	r.RegisterComponent("evm")
	assert.Panics(t, func() { r.RegisterComponent("evm") })
}
