package clients

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultURLSchemes are the job source schemes accepted when none are configured
var DefaultURLSchemes = []string{"http", "https", "s3"}

// URLPolicy decides which job source URLs the worker may fetch.
//
// Hosts entries match a hostname exactly, or any subdomain when they start
// with a dot (".example.com"). With no Hosts every public host is allowed
// and loopback, private and link-local addresses are refused unless
// AllowPrivate is set. A non-empty Hosts list is authoritative and lifts the
// address check for the hosts it names.
type URLPolicy struct {
	Schemes      []string
	Hosts        []string
	AllowPrivate bool
}

// Check validates a job source URL
func (p *URLPolicy) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !p.schemeAllowed(scheme) {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	// s3 hosts are bucket names resolved by the object store
	if scheme == "s3" {
		return nil
	}

	if len(p.Hosts) > 0 {
		if !p.hostAllowed(host) {
			return fmt.Errorf("host %q is not in the allowed list", host)
		}
		return nil
	}
	if p.AllowPrivate {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil && privateIP(ip) {
		return fmt.Errorf("address %s is not allowed", ip)
	}
	return nil
}

// Transport returns an HTTP transport that refuses to connect to private
// addresses, so hostnames that resolve to internal services are caught at
// dial time. Policies with a host list or AllowPrivate dial normally.
func (p *URLPolicy) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if p.AllowPrivate || len(p.Hosts) > 0 {
		return t
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip != nil && privateIP(ip) {
				return fmt.Errorf("dial %s: address %s is not allowed", network, ip)
			}
			return nil
		},
	}
	t.DialContext = dialer.DialContext
	return t
}

func (p *URLPolicy) schemeAllowed(scheme string) bool {
	schemes := p.Schemes
	if len(schemes) == 0 {
		schemes = DefaultURLSchemes
	}
	for _, s := range schemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

func (p *URLPolicy) hostAllowed(host string) bool {
	for _, h := range p.Hosts {
		h = strings.ToLower(h)
		if host == h || (strings.HasPrefix(h, ".") && strings.HasSuffix(host, h)) {
			return true
		}
	}
	return false
}

func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
