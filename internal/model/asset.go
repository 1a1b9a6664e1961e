// Package model defines the attack surface value objects: assets and the
// snapshot documents that capture them.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/user/attackdiff/internal/errors"
)

// AssetID is the stable identity of an asset: the discovered host string.
type AssetID string

// NewAssetID validates a host and returns its identity.
func NewAssetID(host string) (AssetID, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return "", apperrors.New(apperrors.KindInvalidInput, "asset_host_empty", "asset host must not be empty")
	}
	return AssetID(trimmed), nil
}

func (id AssetID) String() string {
	return string(id)
}

// Asset is one discovered host and its observed attributes.
type Asset struct {
	ID        AssetID
	Host      string
	IP        string
	Ports     []int
	Services  []string
	Sources   []string
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewAsset creates a fresh observation of host seen at now.
func NewAsset(host string, now time.Time) (Asset, error) {
	id, err := NewAssetID(host)
	if err != nil {
		return Asset{}, err
	}
	seen := Timestamp(now)
	return Asset{
		ID:        id,
		Host:      string(id),
		Ports:     []int{},
		Services:  []string{},
		Sources:   []string{},
		FirstSeen: seen,
		LastSeen:  seen,
	}, nil
}

// AddPorts records open ports, keeping the set sorted and unique.
func (a *Asset) AddPorts(ports ...int) {
	a.Ports = uniqueInts(append(append([]int{}, a.Ports...), ports...))
}

// AddServices records service names; blanks are dropped.
func (a *Asset) AddServices(services ...string) {
	a.Services = uniqueStrings(append(append([]string{}, a.Services...), services...))
}

// AddSources records discovery source tags such as "nmap".
func (a *Asset) AddSources(sources ...string) {
	a.Sources = uniqueStrings(append(append([]string{}, a.Sources...), sources...))
}

// Touch advances LastSeen to now. LastSeen never moves backwards.
func (a *Asset) Touch(now time.Time) {
	seen := Timestamp(now)
	if seen.After(a.LastSeen) {
		a.LastSeen = seen
	}
}

// Normalize returns a copy with canonical set fields and UTC timestamps.
func (a Asset) Normalize() Asset {
	a.Ports = uniqueInts(a.Ports)
	a.Services = uniqueStrings(a.Services)
	a.Sources = uniqueStrings(a.Sources)
	a.FirstSeen = Timestamp(a.FirstSeen)
	a.LastSeen = Timestamp(a.LastSeen)
	if a.LastSeen.Before(a.FirstSeen) {
		a.LastSeen = a.FirstSeen
	}
	return a
}

// Merge combines two observations of the same identity. Set fields are
// unioned, IP is taken from other when it has one, FirstSeen keeps the
// earliest value and LastSeen advances to now.
func (a Asset) Merge(other Asset, now time.Time) (Asset, error) {
	if a.ID != other.ID {
		return Asset{}, apperrors.New(apperrors.KindInvalidInput, "asset_merge_mismatch",
			fmt.Sprintf("cannot merge asset %q into %q", other.ID, a.ID))
	}
	merged := a
	if other.IP != "" {
		merged.IP = other.IP
	}
	merged.Ports = uniqueInts(append(append([]int{}, a.Ports...), other.Ports...))
	merged.Services = uniqueStrings(append(append([]string{}, a.Services...), other.Services...))
	merged.Sources = uniqueStrings(append(append([]string{}, a.Sources...), other.Sources...))
	if !other.FirstSeen.IsZero() && (merged.FirstSeen.IsZero() || other.FirstSeen.Before(merged.FirstSeen)) {
		merged.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = other.LastSeen
	}
	merged.Touch(now)
	return merged.Normalize(), nil
}

// CarryFirstSeen keeps the earlier FirstSeen of a previous snapshot's
// observation. Ports and services are not unioned so that closed ports
// still show up as removals.
func (a Asset) CarryFirstSeen(previous Asset) Asset {
	if previous.ID == a.ID && !previous.FirstSeen.IsZero() && previous.FirstSeen.Before(a.FirstSeen) {
		a.FirstSeen = previous.FirstSeen
	}
	return a
}

type assetRecord struct {
	ID        string   `json:"id"`
	Host      string   `json:"host"`
	IP        *string  `json:"ip"`
	Ports     []int    `json:"ports"`
	Services  []string `json:"services"`
	Sources   []string `json:"sources"`
	FirstSeen string   `json:"first_seen"`
	LastSeen  string   `json:"last_seen"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	n := a.Normalize()
	rec := assetRecord{
		ID:        string(n.ID),
		Host:      n.Host,
		Ports:     n.Ports,
		Services:  n.Services,
		Sources:   n.Sources,
		FirstSeen: FormatTime(n.FirstSeen),
		LastSeen:  FormatTime(n.LastSeen),
	}
	if n.IP != "" {
		ip := n.IP
		rec.IP = &ip
	}
	return json.Marshal(rec)
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var rec assetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	host := rec.Host
	if host == "" {
		host = rec.ID
	}
	id, err := NewAssetID(host)
	if err != nil {
		return err
	}
	if rec.ID != "" && rec.ID != string(id) {
		return fmt.Errorf("asset id %q does not match host %q", rec.ID, host)
	}
	firstSeen, err := parseOptionalTime(rec.FirstSeen)
	if err != nil {
		return fmt.Errorf("asset %s first_seen: %w", id, err)
	}
	lastSeen, err := parseOptionalTime(rec.LastSeen)
	if err != nil {
		return fmt.Errorf("asset %s last_seen: %w", id, err)
	}
	decoded := Asset{
		ID:        id,
		Host:      string(id),
		Ports:     rec.Ports,
		Services:  rec.Services,
		Sources:   rec.Sources,
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
	}
	if rec.IP != nil {
		decoded.IP = *rec.IP
	}
	*a = decoded.Normalize()
	return nil
}

// parseOptionalTime leaves an absent seen timestamp zero so that the
// document can default it.
func parseOptionalTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return ParseTime(value)
}

// Assets maps identity to asset for one capture.
type Assets map[AssetID]Asset

// IDs returns the identities in ascending order.
func (as Assets) IDs() []AssetID {
	ids := make([]AssetID, 0, len(as))
	for id := range as {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Observe adds a, merging it with an existing observation of the same id.
func (as Assets) Observe(a Asset, now time.Time) {
	existing, ok := as[a.ID]
	if !ok {
		as[a.ID] = a.Normalize()
		return
	}
	// ids are equal here, Merge cannot fail
	merged, _ := existing.Merge(a, now)
	as[a.ID] = merged
}

// DefaultSeen fills seen timestamps missing from older files with at, the
// capture time of the snapshot holding them.
func (as Assets) DefaultSeen(at time.Time) {
	for id, a := range as {
		if !a.FirstSeen.IsZero() && !a.LastSeen.IsZero() {
			continue
		}
		if a.FirstSeen.IsZero() {
			a.FirstSeen = at
		}
		if a.LastSeen.IsZero() {
			a.LastSeen = at
		}
		as[id] = a.Normalize()
	}
}

func uniqueInts(values []int) []int {
	out := make([]int, 0, len(values))
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
