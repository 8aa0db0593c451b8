package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Fallback resolvers raced when the system resolver fails. Captive-portal
// and broken VPN DNS setups are common on the networks study sessions
// happen on; losing the room socket to a resolver hiccup is not acceptable.
var publicDNS = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
}

// Lookup resolves a hostname, trying the system resolver first and racing
// the public fallbacks when it fails. IPv4 addresses are preferred.
func Lookup(host string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	ip, err := resolveWith(ctx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}
	return raceFallbacks(host)
}

func raceFallbacks(host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func(server string) {
			r := &net.Resolver{
				PreferGo: true,
				Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
					d := new(net.Dialer)
					return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
				},
			}
			ip, err := resolveWith(ctx, r, host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: fallback DNS race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all fallback DNS servers failed", host)
}

func resolveWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
