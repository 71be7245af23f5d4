package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexqa/internal/domain"
)

func TestBuildersCoverEveryType(t *testing.T) {
	for _, qt := range domain.AllQueryTypes() {
		assert.NotEmpty(t, builders[qt].system, "query type %s has no system template", qt)
		assert.NotEmpty(t, builders[qt].requirements, "query type %s has no requirements", qt)
	}
	_, err := NewRouter()
	require.NoError(t, err)
}

func TestRoute_AllTypes(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	for _, qt := range domain.AllQueryTypes() {
		t.Run(qt.String(), func(t *testing.T) {
			p, err := r.Route(qt, "  login with SSO  ", "[1] users sign in with SSO")
			require.NoError(t, err)

			assert.Equal(t, qt, p.Type)
			assert.NotEmpty(t, p.System)
			assert.NotContains(t, p.System, "{{")
			assert.Contains(t, p.User, "Context:\n[1] users sign in with SSO")
			assert.Contains(t, p.User, "Question:\nlogin with SSO")
			assert.True(t, strings.HasSuffix(p.User, "Now provide your response:"))
			assert.Equal(t, qt.Tabular(), strings.Contains(p.User, "Markdown pipe table"))
		})
	}
}

func TestRoute_TableColumns(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	p, err := r.Route(domain.QueryTestCase, "checkout", "ctx")
	require.NoError(t, err)
	assert.Contains(t, p.System, "S.no | Summary | Description | Preconditions | Step Summary | Expected Results")
	assert.Contains(t, p.System, "Assumptions and Risks")

	p, err = r.Route(domain.QueryRisk, "checkout", "ctx")
	require.NoError(t, err)
	assert.Contains(t, p.System, "Risk Description | Category | Impact | Likelihood | Mitigation Strategy")

	p, err = r.Route(domain.QueryTestStrategy, "checkout", "ctx")
	require.NoError(t, err)
	for _, section := range []string{"Test Scope", "Entry and Exit Criteria", "Test Deliverables"} {
		assert.Contains(t, p.System, section)
	}
}

func TestRoute_QADiffersFromSummary(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	qa, err := r.Route(domain.QueryQA, "q", "ctx")
	require.NoError(t, err)
	summary, err := r.Route(domain.QuerySummary, "q", "ctx")
	require.NoError(t, err)

	assert.Equal(t, qa.System, summary.System)
	assert.NotEqual(t, qa.User, summary.User)
	assert.Contains(t, summary.User, "Summarize")
}

func TestRoute_EmptyContext(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	p, err := r.Route(domain.QueryQA, "anything", "")
	require.NoError(t, err)
	assert.Contains(t, p.User, "(no matching documents were found)")
}

func TestRoute_InvalidType(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	_, err = r.Route(domain.NumQueryTypes, "q", "ctx")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
