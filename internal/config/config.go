// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates folonet's YAML configuration file
// (spec.md §6): the set of virtual services and their backend servers, the
// attached interfaces and their local IPs, and a seed list of known IP->MAC
// bindings.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"

	"github.com/loheagn/folonet/internal/endpoint"
	"gopkg.in/yaml.v3"
)

// Service describes one virtual service: its local (virtual) endpoint, the
// backend servers a cold start may provision against it, and whether its
// flows run the TCP FSM (is_tcp: false flows are UDP: they skip the FSM,
// and no per-flow reclamation runs for them).
type Service struct {
	Name          string   `yaml:"name"`
	LocalEndpoint string   `yaml:"local_endpoint"`
	Servers       []string `yaml:"servers"`
	IsTCP         bool     `yaml:"is_tcp"`
}

// Interface describes one attached NIC and the local IPv4 addresses the
// datapath may use as SNAT source when rewriting a packet destined to it.
type Interface struct {
	Name     string   `yaml:"name"`
	LocalIPs []string `yaml:"local_ips"`
}

// IPMACEntry seeds internal/sharedmaps.IPMACTable with a known binding at
// startup, ahead of any opportunistic learning from observed frames.
type IPMACEntry struct {
	IP  string `yaml:"ip"`
	MAC string `yaml:"mac"`
}

// Config is the decoded, not-yet-validated shape of the YAML file.
type Config struct {
	Services   []Service    `yaml:"services"`
	Interfaces []Interface  `yaml:"interfaces"`
	IPMACList  []IPMACEntry `yaml:"ip_mac_list"`
}

// Load reads and decodes the YAML file at path, then validates it. The
// caller receives a valid Config, a wrapped read or decode error, or a
// ValidationErrors describing every validation problem found (not just the
// first).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errs
	}
	return &cfg, nil
}

// ResolvedService is a Service after its string fields have been parsed
// into the packed types internal/sharedmaps and internal/flowstate operate
// on.
type ResolvedService struct {
	Name          string
	LocalEndpoint endpoint.Endpoint
	Servers       []endpoint.Endpoint
	IsTCP         bool
}

// Resolve parses every Service's endpoint strings, returning one
// ResolvedService per entry in declaration order. Callers should only call
// this after Validate has already rejected malformed strings.
func (c *Config) Resolve() ([]ResolvedService, error) {
	out := make([]ResolvedService, 0, len(c.Services))
	for _, svc := range c.Services {
		local, err := parseHostPort(svc.LocalEndpoint)
		if err != nil {
			return nil, fmt.Errorf("config: service %q: %w", svc.Name, err)
		}
		servers := make([]endpoint.Endpoint, 0, len(svc.Servers))
		for _, s := range svc.Servers {
			ep, err := parseHostPort(s)
			if err != nil {
				return nil, fmt.Errorf("config: service %q server %q: %w", svc.Name, s, err)
			}
			servers = append(servers, ep)
		}
		out = append(out, ResolvedService{
			Name:          svc.Name,
			LocalEndpoint: local,
			Servers:       servers,
			IsTCP:         svc.IsTCP,
		})
	}
	return out, nil
}

// ResolvedIPMAC is one ip_mac_list entry after its strings have been parsed.
type ResolvedIPMAC struct {
	IP  uint32
	MAC endpoint.Mac
}

// ResolveIPMACList parses every ip_mac_list entry, used by internal/engine
// to seed internal/sharedmaps.IPMACTable at startup.
func (c *Config) ResolveIPMACList() ([]ResolvedIPMAC, error) {
	out := make([]ResolvedIPMAC, 0, len(c.IPMACList))
	for _, entry := range c.IPMACList {
		ep, err := endpoint.New(entry.IP, 0)
		if err != nil {
			return nil, fmt.Errorf("config: ip_mac_list %q: %w", entry.IP, err)
		}
		hw, err := net.ParseMAC(entry.MAC)
		if err != nil {
			return nil, fmt.Errorf("config: ip_mac_list %q: %w", entry.MAC, err)
		}
		mac, err := endpoint.MacFromBytes(hw)
		if err != nil {
			return nil, fmt.Errorf("config: ip_mac_list %q: %w", entry.MAC, err)
		}
		out = append(out, ResolvedIPMAC{IP: ep.IP, MAC: mac})
	}
	return out, nil
}
