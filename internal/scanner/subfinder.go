package scanner

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/model"
	"github.com/user/attackdiff/internal/util"
)

// Subfinder enumerates subdomains of each target domain.
type Subfinder struct {
	base
}

// NewSubfinder creates a subfinder scanner.
func NewSubfinder(opts ...Option) *Subfinder {
	return &Subfinder{base: newBase(opts)}
}

func (s *Subfinder) Name() string { return "subfinder" }

// Scan runs subfinder once per domain. The first failing domain aborts the
// scan so that a partial enumeration is never saved as a full snapshot.
func (s *Subfinder) Scan(ctx context.Context, targets []string) (model.Assets, error) {
	targets, err := requireTargets(targets)
	if err != nil {
		return nil, err
	}
	now := s.now()
	assets := model.Assets{}
	for _, domain := range targets {
		args := append([]string{"-d", domain, "-silent"}, s.extra...)
		util.Debug("subfinder %s", strings.Join(args, " "))
		out, err := s.runner.Run(ctx, nil, "subfinder", args...)
		if err != nil {
			return nil, failure(s.Name(), err)
		}
		found, err := ParseHostList(out, "subfinder", now)
		if err != nil {
			return nil, err
		}
		util.Debug("subfinder found %d hosts for %s", len(found), domain)
		for _, a := range found {
			assets.Observe(a, now)
		}
	}
	return assets, nil
}

// ParseHostList reads one host per line and tags each with source.
func ParseHostList(output []byte, source string, now time.Time) (model.Assets, error) {
	assets := model.Assets{}
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		host := strings.TrimSpace(sc.Text())
		if host == "" {
			continue
		}
		a, err := model.NewAsset(host, now)
		if err != nil {
			continue
		}
		a.AddSources(source)
		assets.Observe(a, now)
	}
	if err := sc.Err(); err != nil {
		return nil, failure(source, err)
	}
	return assets, nil
}
