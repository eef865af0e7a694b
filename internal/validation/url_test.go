package validation

import (
	"net"
	"strings"
	"testing"
)

func TestNewURLValidator(t *testing.T) {
	v := NewURLValidator()
	if v.AllowLocal {
		t.Error("Expected AllowLocal to be false for security")
	}
	if v.MaxLength != 2048 {
		t.Errorf("Expected MaxLength to be 2048, got %d", v.MaxLength)
	}

	if !NewPermissiveURLValidator().AllowLocal {
		t.Error("Expected AllowLocal to be true for permissive mode")
	}
	if !ForConfig(true).AllowLocal || ForConfig(false).AllowLocal {
		t.Error("ForConfig does not follow the allow_local flag")
	}
}

func TestBaseURL(t *testing.T) {
	v := NewURLValidator()

	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
		errorMsg    string
	}{
		{
			name:     "https with path",
			input:    "https://polls.example.org/api",
			expected: "https://polls.example.org/api",
		},
		{
			name:     "trailing slash dropped",
			input:    "https://polls.example.org/api/",
			expected: "https://polls.example.org/api",
		},
		{
			name:     "scheme defaults to https",
			input:    "polls.example.org",
			expected: "https://polls.example.org",
		},
		{
			name:     "surrounding whitespace",
			input:    "  https://polls.example.org  ",
			expected: "https://polls.example.org",
		},
		{
			name:        "empty",
			input:       "",
			shouldError: true,
			errorMsg:    "URL cannot be empty",
		},
		{
			name:        "query not allowed",
			input:       "https://polls.example.org/api?x=1",
			shouldError: true,
			errorMsg:    "query or fragment",
		},
		{
			name:        "ftp scheme",
			input:       "ftp://polls.example.org",
			shouldError: true,
			errorMsg:    "http or https",
		},
		{
			name:        "localhost blocked",
			input:       "http://localhost:3000/api",
			shouldError: true,
			errorMsg:    "localhost URLs are not permitted",
		},
		{
			name:        "private address blocked",
			input:       "http://192.168.1.20/api",
			shouldError: true,
			errorMsg:    "private IP addresses are not permitted",
		},
		{
			name:        "embedded credentials",
			input:       "https://user:pw@polls.example.org",
			shouldError: true,
			errorMsg:    "credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.BaseURL(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error for %q, got %q", tt.input, got)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("BaseURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBaseURLPermissive(t *testing.T) {
	v := NewPermissiveURLValidator()

	for _, input := range []string{"http://localhost:3000/api", "http://127.0.0.1:8080", "http://10.0.0.5/api"} {
		if _, err := v.BaseURL(input); err != nil {
			t.Errorf("permissive validator rejected %q: %v", input, err)
		}
	}
	if _, err := v.BaseURL("http://0.0.0.0:3000"); err == nil {
		t.Error("expected unroutable host to be rejected even in permissive mode")
	}
}

func TestResource(t *testing.T) {
	v := NewURLValidator()

	valid := []string{
		"https://cdn.example.org/thumbs/7.png",
		"http://cdn.example.org:8080/a.jpg?size=small",
	}
	for _, input := range valid {
		if _, err := v.Resource(input); err != nil {
			t.Errorf("Resource(%q) unexpected error: %v", input, err)
		}
	}

	invalid := []string{
		"",
		"cdn.example.org/7.png",
		"data:image/png;base64,AAAA",
		"javascript:alert(1)",
		"https://cdn.example.org/../etc/passwd",
		"https://cdn.example.org/<script>",
		"http://[::1]:80/x.png",
	}
	for _, input := range invalid {
		if _, err := v.Resource(input); err == nil {
			t.Errorf("Resource(%q) expected error", input)
		}
	}

	long := "https://cdn.example.org/" + strings.Repeat("a", 2048)
	if _, err := v.Resource(long); err == nil || !strings.Contains(err.Error(), "too long") {
		t.Errorf("expected length error, got %v", err)
	}
}

func TestIsLocalhost(t *testing.T) {
	tests := map[string]bool{
		"localhost":     true,
		"LOCALHOST":     true,
		"127.0.0.1":     true,
		"::1":           true,
		"app.localhost": true,
		"example.org":   false,
		"localhost.org": false,
	}
	for host, want := range tests {
		if got := isLocalhost(host); got != want {
			t.Errorf("isLocalhost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := map[string]bool{
		"10.1.2.3":    true,
		"172.16.0.1":  true,
		"172.31.9.9":  true,
		"172.32.0.1":  false,
		"192.168.0.1": true,
		"169.254.3.3": true,
		"127.0.0.2":   true,
		"8.8.8.8":     false,
		"fd00::1":     true,
		"fe80::1":     true,
		"2001:db8::1": false,
	}
	for addr, want := range tests {
		if got := isPrivateIP(net.ParseIP(addr)); got != want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", addr, got, want)
		}
	}
}
