package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/attackdiff/internal/errors"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustAsset(t *testing.T, host string, now time.Time, ports []int, services ...string) Asset {
	t.Helper()
	a, err := NewAsset(host, now)
	require.NoError(t, err)
	a.AddPorts(ports...)
	a.AddServices(services...)
	return a
}

func TestNewAssetIdentityIsTrimmedHost(t *testing.T) {
	a, err := NewAsset("  10.0.0.1 ", t0)
	require.NoError(t, err)
	assert.Equal(t, AssetID("10.0.0.1"), a.ID)
	assert.Equal(t, "10.0.0.1", a.Host)
	assert.Equal(t, []int{}, a.Ports)
	assert.Equal(t, a.FirstSeen, a.LastSeen)

	_, err = NewAsset("   ", t0)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))
}

func TestAddersDeduplicateAndSort(t *testing.T) {
	a := mustAsset(t, "host", t0, []int{443, 22, 80, 22}, "ssh", "http", "", "ssh")
	a.AddSources("nmap", "httpx", "nmap")

	assert.Equal(t, []int{22, 80, 443}, a.Ports)
	assert.Equal(t, []string{"http", "ssh"}, a.Services)
	assert.Equal(t, []string{"httpx", "nmap"}, a.Sources)
}

func TestMergeUnionsAndTracksSeen(t *testing.T) {
	left := mustAsset(t, "h", t0, []int{22}, "ssh")
	left.AddSources("nmap")
	left.IP = "1.1.1.1"
	right := mustAsset(t, "h", t0.Add(time.Hour), []int{80}, "http")
	right.AddSources("httpx")

	now := t0.Add(2 * time.Hour)
	merged, err := left.Merge(right, now)
	require.NoError(t, err)

	assert.Equal(t, []int{22, 80}, merged.Ports)
	assert.Equal(t, []string{"http", "ssh"}, merged.Services)
	assert.Equal(t, []string{"httpx", "nmap"}, merged.Sources)
	assert.Equal(t, "1.1.1.1", merged.IP, "ip kept when other has none")
	assert.Equal(t, t0, merged.FirstSeen)
	assert.Equal(t, now, merged.LastSeen)

	right.IP = "2.2.2.2"
	merged, err = left.Merge(right, now)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2", merged.IP)
}

func TestMergeIsCommutativeOnSets(t *testing.T) {
	a := mustAsset(t, "h", t0, []int{22, 8080}, "ssh")
	b := mustAsset(t, "h", t0.Add(time.Minute), []int{80, 22}, "http")
	now := t0.Add(time.Hour)

	ab, err := a.Merge(b, now)
	require.NoError(t, err)
	ba, err := b.Merge(a, now)
	require.NoError(t, err)

	assert.Equal(t, ab.Ports, ba.Ports)
	assert.Equal(t, ab.Services, ba.Services)
	assert.Equal(t, ab.Sources, ba.Sources)
	assert.Equal(t, ab.FirstSeen, ba.FirstSeen)
}

func TestRepeatedMergeSeenMonotonic(t *testing.T) {
	acc := mustAsset(t, "h", t0.Add(5*time.Hour), nil)
	prevFirst, prevLast := acc.FirstSeen, acc.LastSeen
	for i, offset := range []time.Duration{time.Hour, 10 * time.Hour, 0, 3 * time.Hour} {
		obs := mustAsset(t, "h", t0.Add(offset), []int{i})
		var err error
		acc, err = acc.Merge(obs, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.False(t, acc.FirstSeen.After(prevFirst))
		assert.False(t, acc.LastSeen.Before(prevLast))
		assert.False(t, acc.LastSeen.Before(acc.FirstSeen))
		prevFirst, prevLast = acc.FirstSeen, acc.LastSeen
	}
	assert.Equal(t, t0, acc.FirstSeen)
}

func TestMergeRejectsDifferentIdentity(t *testing.T) {
	_, err := mustAsset(t, "a", t0, nil).Merge(mustAsset(t, "b", t0, nil), t0)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))
}

func TestCarryFirstSeenKeepsPortsOfNewObservation(t *testing.T) {
	prev := mustAsset(t, "h", t0, []int{22, 80})
	cur := mustAsset(t, "h", t0.Add(24*time.Hour), []int{22})

	carried := cur.CarryFirstSeen(prev)
	assert.Equal(t, t0, carried.FirstSeen)
	assert.Equal(t, []int{22}, carried.Ports)
	assert.Equal(t, cur.LastSeen, carried.LastSeen)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	a := mustAsset(t, "h", t0, nil)
	a.Touch(t0.Add(-time.Hour))
	assert.Equal(t, t0, a.LastSeen)
	a.Touch(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Hour), a.LastSeen)
}

func TestAssetJSONShape(t *testing.T) {
	a := mustAsset(t, "example.com", t0, []int{443}, "https")
	a.AddSources("subfinder")

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "example.com", "host": "example.com", "ip": null,
		"ports": [443], "services": ["https"], "sources": ["subfinder"],
		"first_seen": "2024-05-01T12:00:00.000000Z", "last_seen": "2024-05-01T12:00:00.000000Z"
	}`, string(data))

	var decoded Asset
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, a, decoded)
}

func TestAssetDecodeAcceptsOffsetTimestampsAndUnsortedSets(t *testing.T) {
	raw := `{"id":"1.2.3.4","host":"1.2.3.4","ip":"1.2.3.4","ports":[80,22,80],
		"services":["ssh","http"],"sources":["nmap"],
		"first_seen":"2024-05-01T12:00:00.123456+00:00","last_seen":"2024-05-01T14:00:00+02:00"}`
	var a Asset
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, []int{22, 80}, a.Ports)
	assert.Equal(t, []string{"http", "ssh"}, a.Services)
	assert.Equal(t, "1.2.3.4", a.IP)
	assert.Equal(t, time.UTC, a.FirstSeen.Location())
	assert.Equal(t, t0.Add(123456*time.Microsecond), a.FirstSeen)
	assert.Equal(t, t0, a.LastSeen)
}

func TestAssetDecodeRejectsIDMismatch(t *testing.T) {
	raw := `{"id":"a","host":"b","ip":null,"ports":[],"services":[],"sources":[],
		"first_seen":"2024-05-01T12:00:00Z","last_seen":"2024-05-01T12:00:00Z"}`
	var a Asset
	assert.Error(t, json.Unmarshal([]byte(raw), &a))
}

func TestAssetsObserveMergesDuplicates(t *testing.T) {
	set := Assets{}
	set.Observe(mustAsset(t, "h", t0, []int{22}), t0)
	set.Observe(mustAsset(t, "h", t0, []int{80}), t0.Add(time.Minute))
	set.Observe(mustAsset(t, "a", t0, nil), t0)

	require.Len(t, set, 2)
	assert.Equal(t, []int{22, 80}, set["h"].Ports)
	assert.Equal(t, []AssetID{"a", "h"}, set.IDs())
}

func TestAssetsDefaultSeen(t *testing.T) {
	var a Asset
	require.NoError(t, json.Unmarshal([]byte(`{"host":"10.0.0.5","ports":[22]}`), &a))
	assert.True(t, a.FirstSeen.IsZero())

	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	as := Assets{a.ID: a, "kept": {ID: "kept", Host: "kept", FirstSeen: earlier, LastSeen: earlier}}
	as.DefaultSeen(at)

	assert.True(t, at.Equal(as["10.0.0.5"].FirstSeen))
	assert.True(t, at.Equal(as["10.0.0.5"].LastSeen))
	assert.True(t, earlier.Equal(as["kept"].LastSeen))
}
