// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/loheagn/folonet/internal/endpoint"
)

// ValidationError is one problem found while validating a Config, in the
// style of the teacher's internal/config.ValidationError: a field path plus
// a human-readable message, collected rather than returned on first error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every ValidationError found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any validation error was recorded.
func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }

// Validate checks every section of c, returning every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateServices()...)
	errs = append(errs, c.validateInterfaces()...)
	errs = append(errs, c.validateIPMACList()...)
	return errs
}

func (c *Config) validateServices() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool, len(c.Services))

	for i, svc := range c.Services {
		field := fmt.Sprintf("services[%d]", i)
		if svc.Name != "" {
			field = fmt.Sprintf("services[%s]", svc.Name)
		}

		if _, err := parseHostPort(svc.LocalEndpoint); err != nil {
			errs = append(errs, ValidationError{field + ".local_endpoint", err.Error()})
		} else if seen[svc.LocalEndpoint] {
			errs = append(errs, ValidationError{field + ".local_endpoint", fmt.Sprintf("duplicate local endpoint %q", svc.LocalEndpoint)})
		} else {
			seen[svc.LocalEndpoint] = true
		}

		if len(svc.Servers) == 0 {
			errs = append(errs, ValidationError{field + ".servers", "service has zero servers"})
		}
		for j, s := range svc.Servers {
			if _, err := parseHostPort(s); err != nil {
				errs = append(errs, ValidationError{fmt.Sprintf("%s.servers[%d]", field, j), err.Error()})
			}
		}
	}
	return errs
}

func (c *Config) validateInterfaces() ValidationErrors {
	var errs ValidationErrors
	for i, iface := range c.Interfaces {
		field := fmt.Sprintf("interfaces[%d]", i)
		if iface.Name == "" {
			errs = append(errs, ValidationError{field + ".name", "interface name is empty"})
		}
		for j, ip := range iface.LocalIPs {
			if net.ParseIP(ip).To4() == nil {
				errs = append(errs, ValidationError{fmt.Sprintf("%s.local_ips[%d]", field, j), fmt.Sprintf("invalid IPv4 address %q", ip)})
			}
		}
	}
	return errs
}

func (c *Config) validateIPMACList() ValidationErrors {
	var errs ValidationErrors
	for i, entry := range c.IPMACList {
		field := fmt.Sprintf("ip_mac_list[%d]", i)
		if net.ParseIP(entry.IP).To4() == nil {
			errs = append(errs, ValidationError{field + ".ip", fmt.Sprintf("invalid IPv4 address %q", entry.IP)})
		}
		if _, err := net.ParseMAC(entry.MAC); err != nil {
			errs = append(errs, ValidationError{field + ".mac", fmt.Sprintf("invalid MAC address %q", entry.MAC)})
		}
	}
	return errs
}

// parseHostPort parses an "ip:port" string into an endpoint.Endpoint, used
// both by Validate (to reject malformed strings early) and by
// Config.Resolve (to build the actual packed Endpoint values services and
// servers are addressed by).
func parseHostPort(s string) (endpoint.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("invalid ip:port %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("invalid ip:port %q: bad port: %w", s, err)
	}
	return endpoint.New(host, uint16(port))
}
