package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})

	assert.Equal(t, int64(110), u.PromptTokens)
	assert.Equal(t, int64(55), u.CompletionTokens)
	assert.Equal(t, int64(165), u.TotalTokens)
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}

	active := []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusReview}
	for _, s := range active {
		assert.False(t, s.Terminal(), string(s))
	}
}
