package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peva0411/focusgate/internal/domain"
)

func newRuleInstaller(t *testing.T) (*FileRuleInstaller, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules", "rules.json")
	clock := NewManualClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	return NewFileRuleInstaller(path, clock), path
}

func TestFileRuleInstaller_EmptyWhenMissing(t *testing.T) {
	installer, _ := newRuleInstaller(t)

	rules, err := installer.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestFileRuleInstaller_ApplyAndList(t *testing.T) {
	installer, _ := newRuleInstaller(t)
	ctx := context.Background()

	diff := domain.RuleDiff{Add: []domain.Rule{
		{ID: 1, Pattern: "facebook.com", RedirectURL: "ext://interstitial?site=fb"},
		{ID: 2, Pattern: "reddit.com", RedirectURL: "ext://interstitial?site=rd"},
	}}
	require.NoError(t, installer.ApplyDiff(ctx, diff))

	rules, err := installer.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "facebook.com", rules[0].Pattern)
}

func TestFileRuleInstaller_RemoveAndAddInOneDiff(t *testing.T) {
	installer, _ := newRuleInstaller(t)
	ctx := context.Background()

	require.NoError(t, installer.ApplyDiff(ctx, domain.RuleDiff{Add: []domain.Rule{
		{ID: 1, Pattern: "facebook.com"},
		{ID: 2, Pattern: "reddit.com"},
	}}))
	require.NoError(t, installer.ApplyDiff(ctx, domain.RuleDiff{
		RemoveIDs: []int{1},
		Add:       []domain.Rule{{ID: 3, Pattern: "news.ycombinator.com"}},
	}))

	rules, err := installer.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 2, rules[0].ID)
	assert.Equal(t, 3, rules[1].ID)
}

func TestFileRuleInstaller_CorruptFileReadsAsEmpty(t *testing.T) {
	installer, path := newRuleInstaller(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0600))

	rules, err := installer.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	// The next apply rewrites the document whole.
	require.NoError(t, installer.ApplyDiff(ctx, domain.RuleDiff{
		Add: []domain.Rule{{ID: 1, Pattern: "facebook.com"}},
	}))
	rules, err = installer.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestFileRuleInstaller_NoTempFileLeftBehind(t *testing.T) {
	installer, path := newRuleInstaller(t)

	require.NoError(t, installer.ApplyDiff(context.Background(), domain.RuleDiff{
		Add: []domain.Rule{{ID: 1, Pattern: "facebook.com"}},
	}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}
