package seiri

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates an httptest server that mimics the Seiri API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestTriageDecodesDecision(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/triage": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Case Case `json:"case"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Suspicious duplicate claim", req.Case.Title)

			writeJSON(w, http.StatusOK, map[string]any{
				"data": TriageResponse{
					Decision: Decision{
						CaseID:         "case-1",
						Classification: &Classification{CaseType: "fraud_review", Urgency: "high", Confidence: 0.9},
						RiskScore:      &RiskScore{RiskScore: 0.82, RiskLevel: "high"},
						Routing:        &Routing{RecommendedTeam: "Escalation", SLATargetHours: 4, EscalationFlag: true},
					},
				},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	resp, err := c.Triage(context.Background(), Case{
		Title:       "Suspicious duplicate claim",
		Description: "Two claims filed within 48 hours",
	})
	require.NoError(t, err)
	assert.Equal(t, "case-1", resp.Decision.CaseID)
	assert.Equal(t, "fraud_review", resp.Decision.Classification.CaseType)
	assert.Equal(t, "Escalation", resp.Decision.Routing.RecommendedTeam)
	assert.True(t, resp.Decision.Routing.EscalationFlag)
}

func TestTriageSurfacesAPIErrors(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/triage": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"code": "CIRCUIT_OPEN", "message": "triage temporarily unavailable"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Triage(context.Background(), Case{Title: "t", Description: "d"})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "CIRCUIT_OPEN")
}

func TestTriageInvalidInput(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/triage": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": "INVALID_INPUT", "message": "case title must not be empty"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Triage(context.Background(), Case{})
	assert.True(t, IsInvalidInput(err))
}

func TestHealth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Health{Status: "ok", Version: "1.0.0", Evaluator: "disabled", BreakerState: "closed"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "closed", h.BreakerState)
}

func TestListTeams(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/teams": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []Team{{Name: "Tier-1", Capacity: 100}, {Name: "Escalation", Capacity: 20}},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	teams, err := c.ListTeams(context.Background())
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "Tier-1", teams[0].Name)
}

func TestVerifyAudit(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/audit/verify": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": AuditVerification{Valid: true, Entries: 42},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	v, err := c.VerifyAudit(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 42, v.Entries)
}

func TestPolicyLifecycle(t *testing.T) {
	var loaded, deleted string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/policies/{name}": func(w http.ResponseWriter, r *http.Request) {
			loaded = r.PathValue("name")
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"name": loaded}})
		},
		"DELETE /v1/policies/{name}": func(w http.ResponseWriter, r *http.Request) {
			deleted = r.PathValue("name")
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"name": deleted}})
		},
		"GET /v1/policies": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []string{"routing"}})
		},
	})

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.LoadPolicy(context.Background(), "routing", "package routing\n"))
	assert.Equal(t, "routing", loaded)

	names, err := c.ListPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"routing"}, names)

	require.NoError(t, c.DeletePolicy(context.Background(), "routing"))
	assert.Equal(t, "routing", deleted)
}

func TestResetBreaker(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/admin/breaker/reset": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": BreakerStatus{State: "closed", Failures: 0},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	st, err := c.ResetBreaker(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "closed", st.State)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	})

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Health(ctx)
	assert.Error(t, err)
}
