package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFallbackPolicy_AttemptsStartWithPrimary(t *testing.T) {
	policy := FallbackPolicy{Models: []string{"qwen-plus", "qwen-turbo"}}

	assert.Equal(t, []string{"qwen-max", "qwen-plus", "qwen-turbo"}, policy.attempts("qwen-max"))
}

func TestFallbackPolicy_DeduplicatesPrimary(t *testing.T) {
	policy := FallbackPolicy{Models: []string{"qwen-max", "qwen-plus"}}

	assert.Equal(t, []string{"qwen-max", "qwen-plus"}, policy.attempts("qwen-max"))
}

func TestFallbackPolicy_SkipsEmptyEntries(t *testing.T) {
	policy := FallbackPolicy{Models: []string{"", "qwen-plus"}}

	assert.Equal(t, []string{"qwen-plus"}, policy.attempts(""))
}

func TestFallbackPolicy_AttemptTimeoutDefault(t *testing.T) {
	assert.Equal(t, 15*time.Second, FallbackPolicy{}.attemptTimeout())
	assert.Equal(t, 3*time.Second, FallbackPolicy{AttemptTimeout: 3 * time.Second}.attemptTimeout())
}
