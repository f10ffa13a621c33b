package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardOnly(t *testing.T) {
	t.Parallel()

	forward := []JobStatus{
		JobStatusInitializing,
		JobStatusFetching,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusReportGenerated,
	}
	for i, from := range forward {
		for j, to := range forward {
			got := CanTransition(from, to)
			assert.Equal(t, j > i, got, "from=%s to=%s", from, to)
		}
	}
}

func TestCanTransition_Error(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(JobStatusInitializing, JobStatusError))
	assert.True(t, CanTransition(JobStatusFetching, JobStatusError))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusError))
	assert.True(t, CanTransition(JobStatusCompleted, JobStatusError))
	assert.False(t, CanTransition(JobStatusReportGenerated, JobStatusError))
	assert.False(t, CanTransition(JobStatusError, JobStatusError))
	assert.False(t, CanTransition(JobStatusError, JobStatusFetching))
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusReportGenerated.IsTerminal())
	assert.True(t, JobStatusError.IsTerminal())
	assert.False(t, JobStatusFetching.IsTerminal())
}

func TestCategoryStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, CategoryPending.IsTerminal())
	assert.False(t, CategoryProcessing.IsTerminal())
	assert.True(t, CategoryCompleted.IsTerminal())
	assert.True(t, CategoryError.IsTerminal())
}

func TestTokenUsageAdd(t *testing.T) {
	t.Parallel()

	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5}
	u.Add(TokenUsage{PromptTokens: 3, CompletionTokens: 7})
	require.Equal(t, TokenUsage{PromptTokens: 13, CompletionTokens: 12}, u)
}
