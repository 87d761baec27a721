// Package dns resolves relay host names, falling back to public resolvers
// when the system resolver is broken (captive portals, stale VPN configs).
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

var publicDNS = []string{
	"1.1.1.1",
	"1.0.0.1",
	"[2606:4700:4700::1111]",
	"8.8.8.8",
	"8.8.4.4",
	"[2001:4860:4860::8888]",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"208.67.220.220",
}

var errNoAddress = errors.New("no addresses returned")

// lookupFunc resolves host through server; an empty server means the system resolver.
type lookupFunc func(ctx context.Context, server, host string) ([]string, error)

// Resolver tries the system resolver first and then races the public servers.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration

	lookup lookupFunc
}

// NewResolver returns a resolver over the built-in public server list.
func NewResolver() *Resolver {
	return &Resolver{
		Servers:      publicDNS,
		LocalTimeout: time.Second,
		RaceTimeout:  2 * time.Second,
		lookup:       lookupVia,
	}
}

var defaultResolver = NewResolver()

// Lookup resolves host with the package resolver.
func Lookup(ctx context.Context, host string) (string, error) {
	return defaultResolver.Lookup(ctx, host)
}

// DialContext dials addr after resolving its host with the package resolver.
// It has the signature websocket.Dialer.NetDialContext expects.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return defaultResolver.DialContext(ctx, network, addr)
}

// Lookup returns one address for host, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.lookup(localCtx, "", host)
	cancel()
	if err == nil {
		if ip, ok := pickIP(ips); ok {
			return ip, nil
		}
	}

	slog.Debug("system dns lookup failed, racing public resolvers", "host", host, "err", err)
	return r.race(ctx, host)
}

// DialContext resolves the host part of addr and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: no fallback servers", host)
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	type result struct {
		ip string
		ok bool
	}
	results := make(chan result, len(r.Servers))

	for _, server := range r.Servers {
		go func(server string) {
			ips, err := r.lookup(ctx, server, host)
			if err != nil {
				results <- result{}
				return
			}
			ip, ok := pickIP(ips)
			results <- result{ip: ip, ok: ok}
		}(server)
	}

	for range r.Servers {
		select {
		case res := <-results:
			if res.ok {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}

	return "", fmt.Errorf("resolve %s: all %d public resolvers failed", host, len(r.Servers))
}

func lookupVia(ctx context.Context, server, host string) ([]string, error) {
	r := &net.Resolver{}
	if server != "" {
		r.PreferGo = true
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		}
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errNoAddress
	}
	return ips, nil
}

func pickIP(ips []string) (string, bool) {
	if len(ips) == 0 {
		return "", false
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	return ips[0], true
}
