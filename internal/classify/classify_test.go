// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTarget_SNIMatch(t *testing.T) {
	c := New()
	assert.True(t, c.IsTarget("93.184.216.34", "www.telegram.org"))
	assert.True(t, c.IsTarget("93.184.216.34", "T.ME"))
}

func TestIsTarget_RangeMatch(t *testing.T) {
	c := New()
	assert.True(t, c.IsTarget("149.154.167.50", ""))
	assert.False(t, c.IsTarget("8.8.8.8", ""))
}

func TestIsTarget_PrefixMatch(t *testing.T) {
	c := New()
	assert.True(t, c.IsTarget("91.108.4.10", ""))
	assert.True(t, c.IsTarget("95.161.1.1", ""))
}

func TestIsTarget_NoMatch(t *testing.T) {
	c := New()
	assert.False(t, c.IsTarget("1.2.3.4", "example.com"))
}

func TestRefresh_UnionNeverRemoves(t *testing.T) {
	c := New()
	before := c.Prefixes()

	c.Refresh([]string{"203.0.113.7", "203.0.113.9"})

	after := c.Prefixes()
	assert.GreaterOrEqual(t, len(after), len(before))
	for _, p := range before {
		assert.Contains(t, after, p)
	}
	assert.Contains(t, after, "203.0.")
}

func TestRefresh_EmptyLeavesUntouched(t *testing.T) {
	c := New()
	before := c.Prefixes()
	c.Refresh(nil)
	assert.Equal(t, before, c.Prefixes())
}

func TestIsTarget_Monotonicity(t *testing.T) {
	// Classifier monotonicity: adding a prefix never removes a positive
	// classification; the classifier is deterministic.
	c := New()
	destIP := "203.0.113.7"
	before := c.IsTarget(destIP, "")
	assert.False(t, before)

	c.Refresh([]string{destIP})
	after := c.IsTarget(destIP, "")
	assert.True(t, after)

	// Re-running with the same inputs stays deterministic.
	assert.Equal(t, after, c.IsTarget(destIP, ""))
}
