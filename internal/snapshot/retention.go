package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/fsx"
)

// Action is what retention does with one snapshot.
type Action string

const (
	ActionKeep   Action = "keep"
	ActionDelete Action = "delete"
)

// Reasons attached to retention decisions.
const (
	ReasonKeepLast   = "keep-last"
	ReasonKeepDays   = "within keep-days"
	ReasonExpired    = "expired"
	ReasonUnreadable = "unreadable"
	reasonTagPrefix  = "tag="
)

// Policy selects which snapshots survive a prune. Nil rules are unset.
// With Tag set the rules apply only to snapshots carrying that tag and
// nothing else is touched; without it tagged snapshots are always kept.
type Policy struct {
	KeepLast *int
	KeepDays *int
	Tag      string
	DryRun   bool
}

// Scoped reports whether the policy is restricted to one tag.
func (p Policy) Scoped() bool {
	return strings.TrimSpace(p.Tag) != ""
}

// Validate rejects policies without any rule and negative rule values.
func (p Policy) Validate() error {
	if p.KeepLast == nil && p.KeepDays == nil {
		return apperrors.Wrap(errors.New("retention policy needs --keep-last or --keep-days"),
			apperrors.KindInvalidPolicy, "retention_rule_required", "pass --keep-last N, --keep-days N, or --force to delete every untagged snapshot")
	}
	if p.KeepLast != nil && *p.KeepLast < 0 {
		return apperrors.Wrap(fmt.Errorf("keep-last must be >= 0, got %d", *p.KeepLast),
			apperrors.KindInvalidPolicy, "retention_rule_negative", "")
	}
	if p.KeepDays != nil && *p.KeepDays < 0 {
		return apperrors.Wrap(fmt.Errorf("keep-days must be >= 0, got %d", *p.KeepDays),
			apperrors.KindInvalidPolicy, "retention_rule_negative", "")
	}
	return nil
}

// Decision is the retention outcome for one snapshot.
type Decision struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
	Error     string    `json:"error,omitempty"`
}

// Plan is the full set of decisions for one prune, oldest snapshot first.
// Skipped lists unreadable files left alone by a tag scoped policy.
type Plan struct {
	Policy    Policy
	Now       time.Time
	Decisions []Decision
	Skipped   []Entry
}

// Kept returns the decisions that keep their snapshot.
func (p Plan) Kept() []Decision {
	return p.filter(ActionKeep)
}

// Deletions returns the decisions that remove their snapshot.
func (p Plan) Deletions() []Decision {
	return p.filter(ActionDelete)
}

func (p Plan) filter(action Action) []Decision {
	out := make([]Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

// BuildPlan decides the fate of every entry without touching the
// filesystem. The plan is the same whether or not the policy is a dry run.
func BuildPlan(entries []Entry, policy Policy, now time.Time) (Plan, error) {
	if err := policy.Validate(); err != nil {
		return Plan{}, err
	}
	policy.Tag = strings.TrimSpace(policy.Tag)
	plan := Plan{Policy: policy, Now: now.UTC()}

	var cutoff time.Time
	if policy.KeepDays != nil {
		// a Duration overflows past ~106751 days
		cutoff = plan.Now.AddDate(0, 0, -*policy.KeepDays)
	}
	withinDays := func(e Entry) bool {
		return policy.KeepDays != nil && !e.CreatedAt().Before(cutoff)
	}

	decisions := make(map[string]Decision, len(entries))
	var candidates []Entry
	for _, e := range entries {
		switch {
		case policy.Scoped() && e.Corrupt():
			plan.Skipped = append(plan.Skipped, e)
		case policy.Scoped():
			if e.Meta.Tag == policy.Tag {
				candidates = append(candidates, e)
			}
		case e.Corrupt():
			decisions[e.Path] = decide(e, ActionKeep, ReasonUnreadable)
		case e.Meta.Tagged():
			decisions[e.Path] = decide(e, ActionKeep, reasonTagPrefix+e.Meta.Tag)
		default:
			candidates = append(candidates, e)
		}
	}
	sortNewestFirst(candidates)

	if policy.Scoped() {
		for i, e := range candidates {
			switch {
			case policy.KeepLast != nil && i < *policy.KeepLast:
				decisions[e.Path] = decide(e, ActionKeep, ReasonKeepLast)
			case withinDays(e):
				decisions[e.Path] = decide(e, ActionKeep, ReasonKeepDays)
			default:
				decisions[e.Path] = decide(e, ActionDelete, ReasonExpired)
			}
		}
	} else {
		var remainder []Entry
		for _, e := range candidates {
			if withinDays(e) {
				decisions[e.Path] = decide(e, ActionKeep, ReasonKeepDays)
				continue
			}
			remainder = append(remainder, e)
		}
		for i, e := range remainder {
			if policy.KeepLast != nil && i < *policy.KeepLast {
				decisions[e.Path] = decide(e, ActionKeep, ReasonKeepLast)
				continue
			}
			decisions[e.Path] = decide(e, ActionDelete, ReasonExpired)
		}
	}

	plan.Decisions = make([]Decision, 0, len(decisions))
	for _, d := range decisions {
		plan.Decisions = append(plan.Decisions, d)
	}
	sort.Slice(plan.Decisions, func(i, j int) bool {
		a, b := plan.Decisions[i], plan.Decisions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})
	return plan, nil
}

func decide(e Entry, action Action, reason string) Decision {
	return Decision{
		Path:      e.Path,
		Name:      e.Name,
		Action:    action,
		Reason:    reason,
		Tag:       e.Meta.Tag,
		CreatedAt: e.CreatedAt(),
	}
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].CreatedAt(), entries[j].CreatedAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].Name > entries[j].Name
	})
}

// Apply carries out the deletions of plan. A dry run plan is returned
// unchanged. A file that is already gone counts as deleted; other failures
// are recorded on their decision and the remaining deletions still run.
func (s *Store) Apply(plan Plan) (Plan, error) {
	if plan.Policy.DryRun || len(plan.Deletions()) == 0 {
		return plan, nil
	}
	lock, err := s.lock()
	if err != nil {
		return plan, err
	}
	defer lock.Release()

	out := plan
	out.Decisions = make([]Decision, len(plan.Decisions))
	copy(out.Decisions, plan.Decisions)

	var failures []error
	for i := range out.Decisions {
		d := &out.Decisions[i]
		if d.Action != ActionDelete {
			continue
		}
		if err := fsx.RemoveIfExists(d.Path); err != nil {
			d.Error = err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		d.Deleted = true
	}
	if len(failures) > 0 {
		return out, apperrors.Wrap(errors.Join(failures...), apperrors.KindIOFailure, "snapshot_delete_failed", "check permissions on the data directory")
	}
	return out, nil
}

// Prune plans and, unless the policy is a dry run, applies retention to
// every snapshot in the store.
func (s *Store) Prune(policy Policy) (Plan, error) {
	if err := policy.Validate(); err != nil {
		return Plan{}, err
	}
	entries, err := s.Entries()
	if err != nil {
		return Plan{}, err
	}
	plan, err := BuildPlan(entries, policy, s.now())
	if err != nil {
		return Plan{}, err
	}
	return s.Apply(plan)
}
