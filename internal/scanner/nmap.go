package scanner

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/model"
)

// Nmap runs nmap with grepable output against IP targets.
type Nmap struct {
	base
}

// NewNmap creates an nmap scanner.
func NewNmap(opts ...Option) *Nmap {
	return &Nmap{base: newBase(opts)}
}

func (n *Nmap) Name() string { return "nmap" }

func (n *Nmap) Scan(ctx context.Context, targets []string) (model.Assets, error) {
	targets, err := requireTargets(targets)
	if err != nil {
		return nil, err
	}
	args := append([]string{"-Pn", "-oG", "-"}, n.extra...)
	args = append(args, targets...)
	out, err := n.runner.Run(ctx, nil, "nmap", args...)
	if err != nil {
		return nil, failure(n.Name(), err)
	}
	return ParseGrepable(out, n.now())
}

// ParseGrepable turns nmap -oG output into assets keyed by IP. Only open
// ports are kept and unknown ("?") services are ignored.
func ParseGrepable(output []byte, now time.Time) (model.Assets, error) {
	assets := model.Assets{}
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Host:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := fields[1]
		a, ok := assets[model.AssetID(ip)]
		if !ok {
			var err error
			a, err = model.NewAsset(ip, now)
			if err != nil {
				continue
			}
			a.IP = ip
			a.AddSources("nmap")
		}

		_, portsPart, found := strings.Cut(line, "Ports:")
		if found {
			// a tab separates the port list from the "Ignored State" field
			portsPart, _, _ = strings.Cut(portsPart, "\t")
			for _, entry := range strings.Split(portsPart, ",") {
				parts := strings.Split(strings.TrimSpace(entry), "/")
				if len(parts) < 5 || parts[1] != "open" {
					continue
				}
				port, err := strconv.Atoi(parts[0])
				if err != nil {
					continue
				}
				a.AddPorts(port)
				if service := parts[4]; service != "" && service != "?" {
					a.AddServices(service)
				}
			}
		}
		assets[a.ID] = a.Normalize()
	}
	if err := sc.Err(); err != nil {
		return nil, failure("nmap", err)
	}
	return assets, nil
}
