// Package mdns advertises the editor bridge on the local network.
//
// Editors on other machines (remote workspaces, containers) can find a
// running host without typing its address. Advertisement is opt-in
// (mdns_enabled) and reveals only presence: the project name, whether a
// token is required and the protocol version.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for fixdeck hosts.
const ServiceType = "_fixdeck._tcp"

// ProtocolVersion identifies the bridge protocol for compatibility.
const ProtocolVersion = "1"

const domain = "local."

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the bridge port to advertise.
	Port int

	// Name is the instance name. Defaults to the system hostname.
	Name string

	// Project is the base name of the project root.
	Project string

	// AuthRequired tells clients they need a bearer token.
	AuthRequired bool

	// Fingerprint is the SHA-256 fingerprint of the bridge certificate,
	// empty when the bridge does not use TLS.
	Fingerprint string
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// instanceName returns the configured name or the hostname.
func (c Config) instanceName() string {
	if c.Name != "" {
		return c.Name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "fixdeck"
}

// txtRecords builds the TXT metadata. Each record must stay under 255
// bytes, so the project name is truncated.
func (c Config) txtRecords(name string) []string {
	auth := "0"
	if c.AuthRequired {
		auth = "1"
	}
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"auth=" + auth,
	}
	if c.Project != "" {
		project := c.Project
		if len(project) > 200 {
			project = project[:200]
		}
		records = append(records, "project="+project)
	}
	if c.Fingerprint != "" {
		records = append(records, "tls=1", "fp="+c.Fingerprint)
	}
	return records
}

// Start begins advertising the service. Calling Start while running is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.instanceName()
	server, err := zeroconf.Register(
		name,
		ServiceType,
		domain,
		a.config.Port,
		a.config.txtRecords(name),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. It is safe to call Stop multiple times or
// on an advertiser that was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is a host found on the local network.
type DiscoveredHost struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Project      string `json:"project,omitempty"`
	AuthRequired bool   `json:"authRequired"`
	TLS          bool   `json:"tls"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	Version      string `json:"version"`
}

// Addr returns host:port.
func (h DiscoveredHost) Addr() string {
	if strings.Contains(h.Host, ":") {
		return fmt.Sprintf("[%s]:%d", h.Host, h.Port)
	}
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// applyTXT fills h from TXT records. Unknown keys are ignored.
func (h *DiscoveredHost) applyTXT(records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			h.Version = value
		case "name":
			h.Name = value
		case "project":
			h.Project = value
		case "auth":
			h.AuthRequired = value == "1"
		case "tls":
			h.TLS = value == "1"
		case "fp":
			h.Fingerprint = value
		}
	}
}

// Discover browses for fixdeck hosts until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}

			// Prefer IPv4 address
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			host.applyTXT(entry.Text)

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes entries once ctx is done.
	<-ctx.Done()
	wg.Wait()

	return hosts, nil
}
