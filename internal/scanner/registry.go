package scanner

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/user/attackdiff/internal/errors"
)

// Names lists the scanners New can build.
var Names = []string{"nmap", "subfinder", "httpx", "connect"}

// Settings carries the configuration every scanner variant draws from.
type Settings struct {
	NmapArgs      string
	SubfinderArgs string
	HTTPXArgs     string

	ConnectPorts       []int
	ConnectConcurrency int
	ConnectTimeout     time.Duration

	Runner Runner
	Clock  func() time.Time
}

// New builds the named scanner from settings.
func New(name string, s Settings) (Scanner, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "nmap":
		opts, err := s.options(s.NmapArgs)
		if err != nil {
			return nil, err
		}
		return NewNmap(opts...), nil
	case "subfinder":
		opts, err := s.options(s.SubfinderArgs)
		if err != nil {
			return nil, err
		}
		return NewSubfinder(opts...), nil
	case "httpx":
		return s.HTTPX()
	case "connect":
		c := NewConnect(s.ConnectConcurrency, s.ConnectTimeout, s.ConnectPorts)
		if s.Clock != nil {
			c.now = s.Clock
		}
		return c, nil
	default:
		return nil, apperrors.New(apperrors.KindInvalidInput, "scanner_unknown",
			fmt.Sprintf("unknown scanner %q (want one of %s)", name, strings.Join(Names, ", ")))
	}
}

// HTTPX builds the httpx scanner on its own, for enrichment.
func (s Settings) HTTPX() (*HTTPX, error) {
	opts, err := s.options(s.HTTPXArgs)
	if err != nil {
		return nil, err
	}
	return NewHTTPX(opts...), nil
}

func (s Settings) options(extra string) ([]Option, error) {
	args, err := SplitArgs(extra)
	if err != nil {
		return nil, err
	}
	return []Option{WithRunner(s.Runner), WithClock(s.Clock), WithArgs(args...)}, nil
}
