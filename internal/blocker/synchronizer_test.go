package blocker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
)

// fakeInstaller implements domain.RuleInstaller in memory and counts calls.
type fakeInstaller struct {
	rules      map[int]domain.Rule
	applyCalls int
	listErr    error
	applyErr   error
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{rules: make(map[int]domain.Rule)}
}

func (f *fakeInstaller) ListRules(ctx context.Context) ([]domain.Rule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Rule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeInstaller) ApplyDiff(ctx context.Context, diff domain.RuleDiff) error {
	f.applyCalls++
	if f.applyErr != nil {
		return f.applyErr
	}
	for _, id := range diff.RemoveIDs {
		delete(f.rules, id)
	}
	for _, r := range diff.Add {
		f.rules[r.ID] = r
	}
	return nil
}

func (f *fakeInstaller) patterns() []string {
	var out []string
	for _, r := range f.rules {
		out = append(out, r.Pattern)
	}
	return out
}

func newSync(installer domain.RuleInstaller) *Synchronizer {
	return NewSynchronizer(installer, "ext://interstitial", zap.NewNop())
}

func sites(patterns ...string) []domain.BlockedSite {
	out := make([]domain.BlockedSite, len(patterns))
	for i, p := range patterns {
		out[i] = domain.BlockedSite{ID: "id-" + p, Pattern: p, Enabled: true}
	}
	return out
}

func TestReconcile_InstallsDesiredRules(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)

	err := s.Reconcile(context.Background(), true, sites("facebook.com"), nil)
	require.NoError(t, err)

	require.Len(t, inst.rules, 1)
	r := inst.rules[1]
	assert.Equal(t, "facebook.com", r.Pattern)
	assert.Equal(t, "ext://interstitial?site=id-facebook.com&from={url}", r.RedirectURL)
}

func TestReconcile_Idempotent(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx, true, sites("facebook.com", "reddit.com"), nil))
	assert.Equal(t, 1, inst.applyCalls)

	// Second identical call issues zero net install calls.
	require.NoError(t, s.Reconcile(ctx, true, sites("facebook.com", "reddit.com"), nil))
	assert.Equal(t, 1, inst.applyCalls)
}

func TestReconcile_NotBlockingRemovesAll(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx, true, sites("a.com", "b.com"), nil))
	require.Len(t, inst.rules, 2)

	require.NoError(t, s.Reconcile(ctx, false, sites("a.com", "b.com"), nil))
	assert.Empty(t, inst.rules)
}

func TestReconcile_SessionExcludesPatternGlobally(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)
	ctx := context.Background()

	all := sites("a.com", "b.com")
	require.NoError(t, s.Reconcile(ctx, true, all, nil))
	require.Len(t, inst.rules, 2)

	// Live session on a.com lifts its rule for the session's duration.
	require.NoError(t, s.Reconcile(ctx, true, all, map[string]bool{"id-a.com": true}))
	assert.ElementsMatch(t, []string{"b.com"}, inst.patterns())

	// Session ends: rule reinstated.
	require.NoError(t, s.Reconcile(ctx, true, all, nil))
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, inst.patterns())
}

func TestReconcile_DisabledSitesSkipped(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)

	list := []domain.BlockedSite{
		{ID: "1", Pattern: "a.com", Enabled: true},
		{ID: "2", Pattern: "b.com", Enabled: false},
		{ID: "3", Pattern: "", Enabled: true},
	}
	require.NoError(t, s.Reconcile(context.Background(), true, list, nil))
	assert.ElementsMatch(t, []string{"a.com"}, inst.patterns())
}

func TestReconcile_DuplicatePatternsCollapse(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)

	list := []domain.BlockedSite{
		{ID: "1", Pattern: "a.com", Enabled: true},
		{ID: "2", Pattern: "a.com", Enabled: true},
	}
	require.NoError(t, s.Reconcile(context.Background(), true, list, nil))
	assert.Len(t, inst.rules, 1)
}

func TestReconcile_RemovesStaleDuplicateRules(t *testing.T) {
	inst := newFakeInstaller()
	// Two installed rules for the same pattern (e.g., left over from a
	// crashed partial apply).
	inst.rules[1] = domain.Rule{ID: 1, Pattern: "a.com"}
	inst.rules[2] = domain.Rule{ID: 2, Pattern: "a.com"}
	s := newSync(inst)

	require.NoError(t, s.Reconcile(context.Background(), true, sites("a.com"), nil))
	assert.Len(t, inst.rules, 1)
}

func TestReconcile_ListFailurePropagates(t *testing.T) {
	inst := newFakeInstaller()
	inst.listErr = errors.New("platform unavailable")
	s := newSync(inst)

	err := s.Reconcile(context.Background(), true, sites("a.com"), nil)
	assert.Error(t, err)
	assert.Equal(t, 0, inst.applyCalls, "no apply attempted when read fails")
}

func TestReconcile_ApplyFailureSelfHeals(t *testing.T) {
	inst := newFakeInstaller()
	s := newSync(inst)
	ctx := context.Background()

	inst.applyErr = errors.New("transient platform error")
	require.Error(t, s.Reconcile(ctx, true, sites("a.com"), nil))
	assert.Empty(t, inst.rules)

	// No cached state: the next reconcile recomputes and succeeds.
	inst.applyErr = nil
	require.NoError(t, s.Reconcile(ctx, true, sites("a.com"), nil))
	assert.ElementsMatch(t, []string{"a.com"}, inst.patterns())
}

func TestDiffRules_StableIDAssignment(t *testing.T) {
	s := newSync(newFakeInstaller())

	installed := []domain.Rule{{ID: 5, Pattern: "keep.com"}}
	desired := map[string]string{"keep.com": "k", "new1.com": "n1", "new2.com": "n2"}

	diff := s.diffRules(installed, desired)
	require.Len(t, diff.Add, 2)
	assert.Empty(t, diff.RemoveIDs)
	// Additions are sorted by pattern and numbered above the surviving max.
	assert.Equal(t, 6, diff.Add[0].ID)
	assert.Equal(t, "new1.com", diff.Add[0].Pattern)
	assert.Equal(t, 7, diff.Add[1].ID)
	assert.Equal(t, "new2.com", diff.Add[1].Pattern)
}
