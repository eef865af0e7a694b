package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidator checks the remote API base URL and the thumbnail URLs that
// arrive inside poll payloads before the agent dials them.
type URLValidator struct {
	// AllowLocal permits localhost and private network hosts
	AllowLocal bool
	MaxLength  int
}

// NewURLValidator blocks local and private hosts.
func NewURLValidator() *URLValidator {
	return &URLValidator{MaxLength: 2048}
}

// NewPermissiveURLValidator allows local development servers.
func NewPermissiveURLValidator() *URLValidator {
	return &URLValidator{AllowLocal: true, MaxLength: 2048}
}

// ForConfig picks the validator matching the api.allow_local setting.
func ForConfig(allowLocal bool) *URLValidator {
	if allowLocal {
		return NewPermissiveURLValidator()
	}
	return NewURLValidator()
}

// BaseURL validates the API base URL. A missing scheme defaults to https and
// the trailing slash is dropped so paths can be appended.
func (v *URLValidator) BaseURL(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input != "" && !strings.Contains(input, "://") {
		input = "https://" + input
	}

	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("base URL must not carry a query or fragment")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// Resource validates an absolute http(s) URL such as a poll thumbnail.
func (v *URLValidator) Resource(input string) (string, error) {
	u, err := v.parse(strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (v *URLValidator) parse(input string) (*url.URL, error) {
	if input == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if v.MaxLength > 0 && len(input) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return nil, fmt.Errorf("URL contains invalid characters")
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL must use http or https protocol")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL must not embed credentials")
	}
	if err := v.checkHost(u.Host); err != nil {
		return nil, err
	}
	if strings.Contains(u.Path, "..") {
		return nil, fmt.Errorf("directory traversal patterns not allowed in URL path")
	}
	return u, nil
}

func (v *URLValidator) checkHost(host string) error {
	hostname := host
	if strings.Contains(host, ":") {
		var err error
		hostname, _, err = net.SplitHostPort(host)
		if err != nil {
			return fmt.Errorf("invalid host format: %w", err)
		}
	}

	if hostname == "0.0.0.0" || hostname == "255.255.255.255" {
		return fmt.Errorf("unroutable host %s", hostname)
	}
	if v.AllowLocal {
		return nil
	}
	if isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}
	if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not permitted")
	}
	return nil
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost") ||
		hostname == "127.0.0.1"
}

var privateBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"127.0.0.0/8",
		"fc00::/7",
		"fe80::/10",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, block)
	}
	return blocks
}()

func isPrivateIP(ip net.IP) bool {
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
