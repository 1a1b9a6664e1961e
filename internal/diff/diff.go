// Package diff compares two asset captures.
package diff

import (
	"sort"

	"github.com/user/attackdiff/internal/model"
)

// Change describes an asset present in both captures whose ports or
// services differ.
type Change struct {
	Host            string   `json:"host"`
	PortsAdded      []int    `json:"ports_added"`
	PortsRemoved    []int    `json:"ports_removed"`
	ServicesAdded   []string `json:"services_added"`
	ServicesRemoved []string `json:"services_removed"`
}

// Result is the outcome of comparing an old capture with a new one.
type Result struct {
	New       model.Assets
	Missing   model.Assets
	Changed   []Change
	Unchanged []model.AssetID
}

// Empty reports whether nothing was added, removed or changed.
func (r Result) Empty() bool {
	return len(r.New) == 0 && len(r.Missing) == 0 && len(r.Changed) == 0
}

// NewIDs returns the added identities in ascending order.
func (r Result) NewIDs() []model.AssetID {
	return r.New.IDs()
}

// MissingIDs returns the removed identities in ascending order.
func (r Result) MissingIDs() []model.AssetID {
	return r.Missing.IDs()
}

// Compute diffs old against new. It has no side effects and its output does
// not depend on map iteration order.
func Compute(old, new model.Assets) Result {
	result := Result{
		New:       model.Assets{},
		Missing:   model.Assets{},
		Changed:   make([]Change, 0),
		Unchanged: make([]model.AssetID, 0),
	}

	for id, asset := range new {
		if _, ok := old[id]; !ok {
			result.New[id] = asset
		}
	}
	for id, asset := range old {
		if _, ok := new[id]; !ok {
			result.Missing[id] = asset
		}
	}

	for _, id := range old.IDs() {
		after, ok := new[id]
		if !ok {
			continue
		}
		before := old[id]

		portsAdded, portsRemoved := intDelta(before.Ports, after.Ports)
		servicesAdded, servicesRemoved := stringDelta(before.Services, after.Services)
		if len(portsAdded)+len(portsRemoved)+len(servicesAdded)+len(servicesRemoved) == 0 {
			result.Unchanged = append(result.Unchanged, id)
			continue
		}
		result.Changed = append(result.Changed, Change{
			Host:            after.Host,
			PortsAdded:      portsAdded,
			PortsRemoved:    portsRemoved,
			ServicesAdded:   servicesAdded,
			ServicesRemoved: servicesRemoved,
		})
	}

	sort.Slice(result.Changed, func(i, j int) bool {
		return result.Changed[i].Host < result.Changed[j].Host
	})
	return result
}

func intDelta(before, after []int) (added, removed []int) {
	beforeSet := make(map[int]struct{}, len(before))
	afterSet := make(map[int]struct{}, len(after))
	for _, v := range before {
		beforeSet[v] = struct{}{}
	}
	for _, v := range after {
		afterSet[v] = struct{}{}
	}

	added = make([]int, 0)
	removed = make([]int, 0)
	for v := range afterSet {
		if _, ok := beforeSet[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range beforeSet {
		if _, ok := afterSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Ints(added)
	sort.Ints(removed)
	return added, removed
}

func stringDelta(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	afterSet := make(map[string]struct{}, len(after))
	for _, v := range before {
		beforeSet[v] = struct{}{}
	}
	for _, v := range after {
		afterSet[v] = struct{}{}
	}

	added = make([]string, 0)
	removed = make([]string, 0)
	for v := range afterSet {
		if _, ok := beforeSet[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range beforeSet {
		if _, ok := afterSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
