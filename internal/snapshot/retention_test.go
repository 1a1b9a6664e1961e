package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/attackdiff/internal/errors"
)

func intPtr(v int) *int { return &v }

func daysAgo(days int) time.Time {
	return t0.Add(-time.Duration(days) * 24 * time.Hour)
}

func decisionsByPath(plan Plan) map[string]Decision {
	out := make(map[string]Decision, len(plan.Decisions))
	for _, d := range plan.Decisions {
		out[d.Path] = d
	}
	return out
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	paths, err := New(dir).List()
	require.NoError(t, err)
	return paths
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"no rule", Policy{}, true},
		{"tag only", Policy{Tag: "baseline"}, true},
		{"negative keep-last", Policy{KeepLast: intPtr(-1)}, true},
		{"negative keep-days", Policy{KeepDays: intPtr(-3)}, true},
		{"keep-last zero", Policy{KeepLast: intPtr(0)}, false},
		{"both rules", Policy{KeepLast: intPtr(2), KeepDays: intPtr(7)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.KindInvalidPolicy))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPruneWithoutRuleDeletesNothing(t *testing.T) {
	dir := t.TempDir()
	saveAt(t, dir, daysAgo(3), "")
	saveAt(t, dir, daysAgo(2), "")

	_, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{})
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidPolicy))
	assert.Len(t, remaining(t, dir), 2)
}

func TestPruneKeepDaysDropsOldest(t *testing.T) {
	dir := t.TempDir()
	oldest := saveAt(t, dir, daysAgo(40), "")
	middle := saveAt(t, dir, daysAgo(20), "")
	newest := saveAt(t, dir, daysAgo(1), "")

	plan, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{KeepDays: intPtr(30), KeepLast: intPtr(0)})
	require.NoError(t, err)

	got := decisionsByPath(plan)
	assert.Equal(t, ActionDelete, got[oldest].Action)
	assert.Equal(t, ReasonExpired, got[oldest].Reason)
	assert.True(t, got[oldest].Deleted)
	assert.Equal(t, ReasonKeepDays, got[middle].Reason)
	assert.Equal(t, ReasonKeepDays, got[newest].Reason)
	assert.Equal(t, []string{middle, newest}, remaining(t, dir))
}

func TestPruneGlobalKeepsTaggedAndNewest(t *testing.T) {
	dir := t.TempDir()
	baseline := saveAt(t, dir, daysAgo(100), "baseline")
	var untagged []string
	for i := 10; i >= 1; i-- {
		untagged = append(untagged, saveAt(t, dir, daysAgo(i), ""))
	}

	plan, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{KeepLast: intPtr(3)})
	require.NoError(t, err)

	got := decisionsByPath(plan)
	assert.Equal(t, ActionKeep, got[baseline].Action)
	assert.Equal(t, "tag=baseline", got[baseline].Reason)
	assert.Len(t, plan.Kept(), 4)
	assert.Len(t, plan.Deletions(), 7)
	for _, path := range untagged[7:] {
		assert.Equal(t, ReasonKeepLast, got[path].Reason)
	}

	want := append([]string{baseline}, untagged[7:]...)
	assert.Equal(t, want, remaining(t, dir))
}

func TestPruneKeepDaysDoesNotConsumeKeepLast(t *testing.T) {
	dir := t.TempDir()
	old1 := saveAt(t, dir, daysAgo(50), "")
	old2 := saveAt(t, dir, daysAgo(40), "")
	recent := saveAt(t, dir, daysAgo(2), "")

	plan, err := planFor(t, dir, Policy{KeepDays: intPtr(7), KeepLast: intPtr(1)})
	require.NoError(t, err)

	got := decisionsByPath(plan)
	assert.Equal(t, ReasonKeepDays, got[recent].Reason)
	assert.Equal(t, ReasonKeepLast, got[old2].Reason)
	assert.Equal(t, ActionDelete, got[old1].Action)
}

func TestPruneHugeKeepDaysKeepsEverything(t *testing.T) {
	for _, days := range []int{106751, 106752, 200000, 999999} {
		dir := t.TempDir()
		old := saveAt(t, dir, daysAgo(400), "")
		recent := saveAt(t, dir, daysAgo(1), "")

		plan, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{KeepDays: intPtr(days), KeepLast: intPtr(0)})
		require.NoError(t, err, "keep-days=%d", days)

		got := decisionsByPath(plan)
		assert.Equal(t, ReasonKeepDays, got[recent].Reason, "keep-days=%d", days)
		assert.Equal(t, ReasonKeepDays, got[old].Reason, "keep-days=%d", days)
		assert.Empty(t, plan.Deletions(), "keep-days=%d", days)
		assert.Len(t, remaining(t, dir), 2, "keep-days=%d", days)
	}
}

func TestPruneScopedTouchesOnlyTag(t *testing.T) {
	dir := t.TempDir()
	nightly1 := saveAt(t, dir, daysAgo(5), "nightly")
	other := saveAt(t, dir, daysAgo(4), "")
	nightly2 := saveAt(t, dir, daysAgo(3), "nightly")
	nightly3 := saveAt(t, dir, daysAgo(2), "nightly")
	broken := filepath.Join(dir, FileName(daysAgo(1)))
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o644))

	plan, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{Tag: "nightly", KeepLast: intPtr(1), KeepDays: intPtr(3)})
	require.NoError(t, err)

	got := decisionsByPath(plan)
	require.Len(t, plan.Decisions, 3)
	assert.Equal(t, ReasonKeepLast, got[nightly3].Reason)
	assert.Equal(t, ReasonKeepDays, got[nightly2].Reason)
	assert.Equal(t, ActionDelete, got[nightly1].Action)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, broken, plan.Skipped[0].Path)

	assert.Equal(t, []string{other, nightly2, nightly3, broken}, remaining(t, dir))
}

func TestPruneGlobalKeepsUnreadable(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, FileName(daysAgo(60)))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(broken, []byte("garbage"), 0o644))
	saveAt(t, dir, daysAgo(50), "")

	plan, err := New(dir, WithClock(fixedClock(t0))).Prune(Policy{KeepLast: intPtr(0)})
	require.NoError(t, err)

	got := decisionsByPath(plan)
	assert.Equal(t, ReasonUnreadable, got[broken].Reason)
	assert.Equal(t, ActionKeep, got[broken].Action)
	assert.Equal(t, []string{broken}, remaining(t, dir))
}

func TestPruneDryRunMatchesRealRun(t *testing.T) {
	policies := []Policy{
		{KeepLast: intPtr(2)},
		{KeepDays: intPtr(10)},
		{KeepLast: intPtr(1), KeepDays: intPtr(4)},
		{Tag: "weekly", KeepLast: intPtr(1)},
	}
	for i, policy := range policies {
		t.Run(fmt.Sprintf("policy-%d", i), func(t *testing.T) {
			dir := t.TempDir()
			for day := 15; day >= 0; day-- {
				tag := ""
				if day%5 == 0 {
					tag = "weekly"
				}
				saveAt(t, dir, daysAgo(day), tag)
			}
			store := New(dir, WithClock(fixedClock(t0)))
			before := remaining(t, dir)

			dry := policy
			dry.DryRun = true
			dryPlan, err := store.Prune(dry)
			require.NoError(t, err)
			assert.Equal(t, before, remaining(t, dir))

			realPlan, err := store.Prune(policy)
			require.NoError(t, err)

			require.Len(t, realPlan.Decisions, len(dryPlan.Decisions))
			for j := range dryPlan.Decisions {
				d, r := dryPlan.Decisions[j], realPlan.Decisions[j]
				assert.Equal(t, d.Path, r.Path)
				assert.Equal(t, d.Action, r.Action)
				assert.Equal(t, d.Reason, r.Reason)
				assert.False(t, d.Deleted)
				assert.Equal(t, r.Action == ActionDelete, r.Deleted)
			}
			assert.Len(t, remaining(t, dir), len(before)-len(realPlan.Deletions()))
		})
	}
}

func TestPruneIsExhaustiveAndKeepsTagged(t *testing.T) {
	dir := t.TempDir()
	var all, tagged []string
	for day := 20; day >= 0; day-- {
		tag := ""
		if day%4 == 0 {
			tag = fmt.Sprintf("t%d", day)
		}
		path := saveAt(t, dir, daysAgo(day), tag)
		all = append(all, path)
		if tag != "" {
			tagged = append(tagged, path)
		}
	}
	entries, err := New(dir).Entries()
	require.NoError(t, err)

	for _, keepLast := range []*int{nil, intPtr(0), intPtr(3), intPtr(50)} {
		for _, keepDays := range []*int{nil, intPtr(0), intPtr(5), intPtr(365)} {
			if keepLast == nil && keepDays == nil {
				continue
			}
			plan, err := BuildPlan(entries, Policy{KeepLast: keepLast, KeepDays: keepDays}, t0)
			require.NoError(t, err)

			var seen []string
			for _, d := range plan.Decisions {
				seen = append(seen, d.Path)
			}
			sort.Strings(seen)
			assert.Equal(t, all, seen)

			got := decisionsByPath(plan)
			for _, path := range tagged {
				assert.Equal(t, ActionKeep, got[path].Action)
			}
		}
	}
}

func TestPlanIsOrderedOldestFirst(t *testing.T) {
	dir := t.TempDir()
	for day := 6; day >= 0; day-- {
		saveAt(t, dir, daysAgo(day), "")
	}
	plan, err := planFor(t, dir, Policy{KeepLast: intPtr(2)})
	require.NoError(t, err)

	for i := 1; i < len(plan.Decisions); i++ {
		assert.False(t, plan.Decisions[i].CreatedAt.Before(plan.Decisions[i-1].CreatedAt))
	}
}

func TestApplyToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	gone := saveAt(t, dir, daysAgo(9), "")
	saveAt(t, dir, daysAgo(1), "")
	store := New(dir, WithClock(fixedClock(t0)))

	plan, err := planFor(t, dir, Policy{KeepLast: intPtr(1)})
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	applied, err := store.Apply(plan)
	require.NoError(t, err)
	assert.True(t, decisionsByPath(applied)[gone].Deleted)

	again, err := store.Apply(plan)
	require.NoError(t, err)
	assert.Len(t, again.Deletions(), 1)
}

func planFor(t *testing.T, dir string, policy Policy) (Plan, error) {
	t.Helper()
	entries, err := New(dir).Entries()
	require.NoError(t, err)
	return BuildPlan(entries, policy, t0)
}
