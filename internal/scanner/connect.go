package scanner

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/user/attackdiff/internal/model"
	"github.com/user/attackdiff/internal/util"
)

// Connect is the built-in TCP connect scanner. It needs no external
// binary and reports every port that accepts a connection.
type Connect struct {
	concurrency int
	timeout     time.Duration
	ports       []int
	now         func() time.Time
	dialer      func(ctx context.Context, network, address string) (net.Conn, error)
	resolver    *net.Resolver
}

// NewConnect creates a connect scanner.
func NewConnect(concurrency int, timeout time.Duration, ports []int) *Connect {
	if concurrency <= 0 {
		concurrency = 20
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if len(ports) == 0 {
		ports = util.GetTopPorts(50)
	}
	c := &Connect{
		concurrency: concurrency,
		timeout:     timeout,
		ports:       append([]int(nil), ports...),
		now:         time.Now,
		resolver:    net.DefaultResolver,
	}
	d := &net.Dialer{Timeout: timeout}
	c.dialer = d.DialContext
	return c
}

func (c *Connect) Name() string { return "connect" }

// Port service names mapping.
var serviceNames = map[int]string{
	21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp", 53: "dns",
	80: "http", 110: "pop3", 111: "rpc", 135: "msrpc", 139: "netbios",
	143: "imap", 443: "https", 445: "smb", 993: "imaps", 995: "pop3s",
	1433: "mssql", 1521: "oracle", 1723: "pptp", 3306: "mysql", 3389: "rdp",
	5432: "postgresql", 5900: "vnc", 5984: "couchdb", 6379: "redis",
	8080: "http-alt", 8443: "https-alt", 8888: "http-alt", 9092: "kafka",
	9200: "elasticsearch", 11211: "memcached", 27017: "mongodb",
}

// ServiceName returns the conventional service on port, or "" if unknown.
func ServiceName(port int) string {
	return serviceNames[port]
}

// Scan probes every configured port on every target. Hosts with no open
// port are omitted; hosts that do not resolve are logged and skipped.
func (c *Connect) Scan(ctx context.Context, targets []string) (model.Assets, error) {
	targets, err := requireTargets(targets)
	if err != nil {
		return nil, err
	}
	now := c.now()
	assets := model.Assets{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, 5) // Limit concurrent host scans

	for _, host := range targets {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			a, ok := c.scanHost(ctx, h, now)
			if !ok {
				return
			}
			mu.Lock()
			assets.Observe(a, now)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, failure(c.Name(), err)
	}
	return assets, nil
}

func (c *Connect) scanHost(ctx context.Context, host string, now time.Time) (model.Asset, bool) {
	a, err := model.NewAsset(host, now)
	if err != nil {
		return model.Asset{}, false
	}
	ip := host
	if parsed := net.ParseIP(host); parsed == nil {
		addrs, err := c.resolver.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			util.Warn("connect: cannot resolve %s: %v", host, err)
			return model.Asset{}, false
		}
		ip = addrs[0]
	}

	open := c.scanPorts(ctx, ip)
	if len(open) == 0 {
		return model.Asset{}, false
	}
	a.IP = ip
	a.AddPorts(open...)
	for _, port := range open {
		if name := ServiceName(port); name != "" {
			a.AddServices(name)
		}
	}
	a.AddSources(c.Name())
	return a.Normalize(), true
}

func (c *Connect) scanPorts(ctx context.Context, ip string) []int {
	jobs := make(chan int, len(c.ports))
	results := make(chan int, len(c.ports))

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range jobs {
				if ctx.Err() != nil {
					return
				}
				if c.probe(ctx, ip, port) {
					results <- port
				}
			}
		}()
	}

	for _, port := range c.ports {
		jobs <- port
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var open []int
	for port := range results {
		open = append(open, port)
	}
	sort.Ints(open)
	return open
}

func (c *Connect) probe(ctx context.Context, ip string, port int) bool {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dialer(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false // Port closed or filtered
	}
	_ = conn.Close()
	return true
}

// String describes the scan configuration for log lines.
func (c *Connect) String() string {
	return fmt.Sprintf("connect(ports=%d concurrency=%d timeout=%s)", len(c.ports), c.concurrency, c.timeout)
}
