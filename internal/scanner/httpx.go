package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/model"
)

// HTTPX probes hosts for live web services. Hosts are fed on stdin and
// results read as JSON lines.
type HTTPX struct {
	base
}

// NewHTTPX creates an httpx scanner.
func NewHTTPX(opts ...Option) *HTTPX {
	return &HTTPX{base: newBase(opts)}
}

func (h *HTTPX) Name() string { return "httpx" }

func (h *HTTPX) Scan(ctx context.Context, targets []string) (model.Assets, error) {
	targets, err := requireTargets(targets)
	if err != nil {
		return nil, err
	}
	args := append([]string{"-silent", "-json"}, h.extra...)
	stdin := []byte(strings.Join(targets, "\n") + "\n")
	out, err := h.runner.Run(ctx, stdin, "httpx", args...)
	if err != nil {
		return nil, failure(h.Name(), err)
	}
	return ParseHTTPX(out, h.now())
}

// Enrich probes the hosts already in assets and merges the web services
// found into them. Hosts httpx does not answer for are left unchanged.
func (h *HTTPX) Enrich(ctx context.Context, assets model.Assets) (model.Assets, error) {
	if len(assets) == 0 {
		return assets, nil
	}
	hosts := make([]string, 0, len(assets))
	for _, id := range assets.IDs() {
		hosts = append(hosts, id.String())
	}
	found, err := h.Scan(ctx, hosts)
	if err != nil {
		return nil, err
	}
	now := h.now()
	out := make(model.Assets, len(assets))
	for id, a := range assets {
		out[id] = a
	}
	for _, a := range found {
		out.Observe(a, now)
	}
	return out, nil
}

type httpxRecord struct {
	Input  string          `json:"input"`
	Host   string          `json:"host"`
	URL    string          `json:"url"`
	Port   json.RawMessage `json:"port"`
	Scheme string          `json:"scheme"`
	A      []string        `json:"a"`
}

// ParseHTTPX reads httpx -json output. Each line becomes an asset keyed by
// the probed input host carrying the port, the scheme as a service and the
// resolved IP.
func ParseHTTPX(output []byte, now time.Time) (model.Assets, error) {
	assets := model.Assets{}
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec httpxRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, failure("httpx", fmt.Errorf("malformed output on line %d: %w", lineNo, err))
		}
		host := rec.hostName()
		if host == "" {
			continue
		}
		a, err := model.NewAsset(host, now)
		if err != nil {
			continue
		}
		a.AddSources("httpx")
		if port, ok := rec.port(); ok {
			a.AddPorts(port)
		}
		if scheme := strings.ToLower(strings.TrimSpace(rec.Scheme)); scheme != "" {
			a.AddServices(scheme)
		}
		a.IP = rec.ip()
		assets.Observe(a, now)
	}
	if err := sc.Err(); err != nil {
		return nil, failure("httpx", err)
	}
	return assets, nil
}

func (r httpxRecord) hostName() string {
	if input := strings.TrimSpace(r.Input); input != "" {
		if h, _, err := net.SplitHostPort(input); err == nil {
			return h
		}
		return input
	}
	if u, err := url.Parse(r.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return ""
}

// port accepts both the numeric and the string form httpx has emitted
// across versions.
func (r httpxRecord) port() (int, bool) {
	raw := strings.Trim(strings.TrimSpace(string(r.Port)), `"`)
	if raw == "" || raw == "null" {
		return 0, false
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

func (r httpxRecord) ip() string {
	if ip := net.ParseIP(strings.TrimSpace(r.Host)); ip != nil {
		return ip.String()
	}
	for _, a := range r.A {
		if ip := net.ParseIP(strings.TrimSpace(a)); ip != nil {
			return ip.String()
		}
	}
	return ""
}
