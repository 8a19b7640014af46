package net

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultService is the DNS-SD service type localboard servers announce.
const DefaultService = "_localboard._tcp"

// Advertisement describes the mDNS record a server publishes.
type Advertisement struct {
	// Instance defaults to the host name.
	Instance string
	Service  string
	Port     int
	Info     []string
}

// Advertise publishes ad on the local network until the returned server is
// shut down.
func Advertise(ad Advertisement) (*mdns.Server, error) {
	if ad.Service == "" {
		ad.Service = DefaultService
	}
	if ad.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		ad.Instance = host
	}

	service, err := mdns.NewMDNSService(ad.Instance, ad.Service, "", "", ad.Port, nil, ad.Info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Peer is a server found by Browse.
type Peer struct {
	Instance string
	Host     string
	Port     int
	Info     []string
}

// Browse queries service for timeout and calls found once per distinct
// host:port. It returns early when ctx is cancelled.
func Browse(ctx context.Context, service string, timeout time.Duration, found func(Peer)) error {
	if service == "" {
		service = DefaultService
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entries)
	}()

	seen := make(map[string]struct{})
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				if err := <-queryErr; err != nil {
					return fmt.Errorf("mdns query %s: %w", service, err)
				}
				return nil
			}
			p, ok := peerFromEntry(e, service)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s:%d", p.Host, p.Port)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			found(p)
		case <-ctx.Done():
			go func() {
				for range entries {
				}
			}()
			return ctx.Err()
		}
	}
}

func peerFromEntry(e *mdns.ServiceEntry, service string) (Peer, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Peer{}, false
	}
	instance := strings.TrimSuffix(e.Name, ".")
	instance = strings.TrimSuffix(instance, ".local")
	instance = strings.TrimSuffix(instance, "."+service)
	return Peer{
		Instance: instance,
		Host:     e.AddrV4.String(),
		Port:     e.Port,
		Info:     e.InfoFields,
	}, true
}
