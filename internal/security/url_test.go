package security

import (
	"errors"
	"net"
	"testing"

	"github.com/parleyhq/parley/internal/log"
)

func TestValidateScheme(t *testing.T) {
	p := NewURLPolicy(log.NewNop())

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"file scheme", "file:///etc/passwd", ErrDisallowedScheme},
		{"ftp scheme", "ftp://example.com/x", ErrDisallowedScheme},
		{"javascript scheme", "javascript:alert(1)", ErrDisallowedScheme},
		{"gopher scheme", "gopher://example.com", ErrDisallowedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Validate(tt.url); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateForbiddenHosts(t *testing.T) {
	p := NewURLPolicy(log.NewNop())

	tests := []string{
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://0.0.0.0/",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
	}
	for _, url := range tests {
		t.Run(url, func(t *testing.T) {
			if err := p.Validate(url); !errors.Is(err, ErrForbiddenHost) {
				t.Errorf("Validate(%q) = %v, want %v", url, err, ErrForbiddenHost)
			}
		})
	}
}

func TestValidateNoHost(t *testing.T) {
	p := NewURLPolicy(log.NewNop())
	if err := p.Validate("http://"); err == nil {
		t.Error("Validate() accepted URL without a host")
	}
}

func TestPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"224.0.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
		{"fc00::1", true},
		{"fd12::1", true},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("bad test IP %q", tt.ip)
			}
			if got := privateIP(ip); got != tt.want {
				t.Errorf("privateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestClientLimitsRedirects(t *testing.T) {
	p := NewURLPolicy(log.NewNop())
	client := p.Client(0)
	if client.CheckRedirect == nil {
		t.Fatal("client has no redirect check")
	}
}
