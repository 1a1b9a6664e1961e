package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/user/attackdiff/internal/model"
)

type surfaceRecord struct {
	IP       string   `json:"ip"`
	Ports    []int    `json:"ports"`
	Services []string `json:"services"`
	Sources  []string `json:"sources"`
}

// Digest fingerprints the attack surface of assets: RFC 8785 canonical JSON
// of every asset without its seen timestamps, hashed with sha256. Two
// captures of an unchanged surface share a digest.
func Digest(assets model.Assets) (string, error) {
	surface := make(map[string]surfaceRecord, len(assets))
	for id, a := range assets {
		n := a.Normalize()
		surface[string(id)] = surfaceRecord{
			IP:       n.IP,
			Ports:    n.Ports,
			Services: n.Services,
			Sources:  n.Sources,
		}
	}
	raw, err := json.Marshal(surface)
	if err != nil {
		return "", fmt.Errorf("encode surface: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize surface: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
