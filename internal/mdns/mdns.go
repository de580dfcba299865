package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD type under which capture nodes announce their
// telemetry endpoint.
const Service = "_rxcapture._tcp"

const domain = "local."

// Host represents a discovered capture node.
type Host struct {
	Instance  string // Advertised name: "rxcapture on pi4"
	Hostname  string // DNS hostname: "pi4.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Announcement keeps a service registered until Close.
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers instance on port with the given TXT records.
func Announce(instance string, port int, txt map[string]string) (*Announcement, error) {
	server, err := zeroconf.Register(instance, Service, domain, port, txtRecords(txt), nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", Service, err)
	}
	return &Announcement{server: server}, nil
}

// Close withdraws the announcement.
func (a *Announcement) Close() error {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
	return nil
}

// Discover performs a blocking mDNS browse for capture nodes until timeout
// or ctx ends. It returns cleaned and deduplicated host entries.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := hostFromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}
	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// TXTValue returns the value of key from "key=value" records.
func (h Host) TXTValue(key string) (string, bool) {
	for _, rec := range h.TXT {
		k, v, found := strings.Cut(rec, "=")
		if found && k == key {
			return v, true
		}
	}
	return "", false
}

func txtRecords(txt map[string]string) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
