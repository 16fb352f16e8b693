package seiri

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seiri-ai/seiri/internal/model"
)

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AUDIT_LOG_PATH", filepath.Join(dir, "audit.log"))
	t.Setenv("VECTOR_STORE_DIR", filepath.Join(dir, "vectors"))
	t.Setenv("SEIRI_EMBEDDING_PROVIDER", "hash")
	t.Setenv("REDIS_URL", "")
	t.Setenv("POLICY_EVALUATOR_URL", "")

	app, err := New(append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestNewWiresFullPipeline(t *testing.T) {
	app := newTestApp(t, WithVersion("1.2.3"), WithPort(9090))

	assert.Equal(t, "1.2.3", app.version)
	assert.Equal(t, 9090, app.cfg.Port)
	require.NotNil(t, app.Orchestrator())

	decision, err := app.Orchestrator().Triage(context.Background(), &model.Case{
		Title:       "Minor fender bender",
		Description: "Low-speed collision, small dent",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CaseInsuranceClaim, decision.Classification.CaseType)
	assert.Equal(t, 1, app.chain.Len())
}

func TestAppServesTriageOverHTTP(t *testing.T) {
	app := newTestApp(t)

	body, err := json.Marshal(model.TriageRequest{Case: model.Case{
		Title:       "Unauthorized charge on my card",
		Description: "A charge I did not make appeared on my statement",
	}})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/triage", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code, rec.Body.String())
}

type stubClassifier struct{}

func (stubClassifier) ClassifyText(_ context.Context, _ string) (Classification, error) {
	return Classification{CaseType: "legal_intake", Urgency: "high", Confidence: 0.99, Reasoning: "stub"}, nil
}

func TestWithTextClassifierOverridesRules(t *testing.T) {
	app := newTestApp(t, WithTextClassifier(stubClassifier{}))

	decision, err := app.Orchestrator().Triage(context.Background(), &model.Case{
		Title:       "Minor fender bender",
		Description: "Low-speed collision, small dent",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CaseLegalIntake, decision.Classification.CaseType)
	assert.Equal(t, model.UrgencyHigh, decision.Classification.Urgency)
}

func TestWithMCPEnablesEndpoint(t *testing.T) {
	app := newTestApp(t, WithMCP())

	req := httptest.NewRequest("GET", "/mcp", nil)
	rec := httptest.NewRecorder()
	app.srv.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, 404, rec.Code)
}
