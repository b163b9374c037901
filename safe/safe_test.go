package safe

import (
	"bytes"
	"errors"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret([]byte("short")); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("short secret: got %v", err)
	}
	if err := ValidateSecret(bytes.Repeat([]byte("a"), MinSecretLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"screenshot-2026-10-17T10-00-00.000Z.png", "/out/screenshot-2026-10-17T10-00-00.000Z.png", false},
		{"shots/a.jpg", "/out/shots/a.jpg", false},
		{"/abs.png", "/out/abs.png", false},
		{"../etc/passwd", "", true},
		{"a/../../b", "", true},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		got, err := OutputPath("/out", tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("OutputPath(%q) error=%v, wantErr=%v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && got != filepath.FromSlash(tt.want) {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		url          string
		allowPrivate bool
		want         error
	}{
		{"https://93.184.215.14/page", false, nil},
		{"ftp://93.184.215.14/data", false, ErrUnsafeScheme},
		{"javascript:alert(1)", false, ErrUnsafeScheme},
		{"http://127.0.0.1/admin", false, ErrPrivateTarget},
		{"http://127.0.0.1/admin", true, nil},
		{"http://10.0.0.1/internal", false, ErrPrivateTarget},
		{"http://[::1]/api", false, ErrPrivateTarget},
		{"http://172.16.0.1/secret", false, ErrPrivateTarget},
		{"file:///etc/passwd", true, ErrUnsafeScheme},
	}
	for _, tt := range tests {
		err := ValidateTarget(tt.url, tt.allowPrivate)
		if tt.want == nil && err != nil {
			t.Errorf("ValidateTarget(%q, %v) = %v, want nil", tt.url, tt.allowPrivate, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("ValidateTarget(%q, %v) = %v, want %v", tt.url, tt.allowPrivate, err, tt.want)
		}
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"shot_1", "0192f3a4-7b1c-7def-8123-456789abcdef", "a.b"}
	for _, s := range valid {
		if err := ValidateID(s); err != nil {
			t.Errorf("ValidateID(%q): %v", s, err)
		}
	}
	invalid := []string{"", "..", "a/b", "has space", "é", strings.Repeat("a", MaxIDLen+1)}
	for _, s := range invalid {
		if err := ValidateID(s); !errors.Is(err, ErrBadID) {
			t.Errorf("ValidateID(%q) = %v, want ErrBadID", s, err)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	_, err = LimitedReadAll(strings.NewReader(data), 50)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("oversized read: got %v", err)
	}
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"100.64.1.1", true},
		{"0.0.0.0", true},
		{"::ffff:10.1.2.3", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
	}
	for _, tt := range tests {
		if got := isPrivate(netip.MustParseAddr(tt.ip)); got != tt.private {
			t.Errorf("isPrivate(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
