package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/dhpke/nmos-core/internal/resource"
)

func TestControlVersion(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"urn:x-nmos:control:sr-ctrl/v1.1", "v1.1", true},
		{"urn:x-nmos:control:sr-ctrl/v1.0", "v1.0", true},
		{"urn:x-nmos:control:sr-ctrl", FallbackConnectionVersion, true},
		{"urn:x-nmos:control:events/v1.0", "", false},
		{"urn:x-nmos:control:sr-ctrl/latest", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ControlVersion(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ControlVersion(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestReceiverControlURL(t *testing.T) {
	const want = "http://10.0.0.5:8080/x-nmos/connection/v1.1/single/receivers/r1"
	hrefs := []string{
		"http://10.0.0.5:8080/x-nmos/connection/",
		"http://10.0.0.5:8080/x-nmos/connection",
		"http://10.0.0.5:8080/x-nmos/connection/v1.1/",
		"http://10.0.0.5:8080/x-nmos/connection/v1.0/single/",
		"http://10.0.0.5:8080/x-nmos/connection/v1.1/bulk",
		"http://10.0.0.5:8080/x-nmos/connection/v1.1/single/receivers/",
	}
	for _, href := range hrefs {
		t.Run(href, func(t *testing.T) {
			if got := ReceiverControlURL(href, "v1.1", "r1"); got != want {
				t.Errorf("ReceiverControlURL() = %q, want %q", got, want)
			}
		})
	}
}

func TestResolveReceiverControl(t *testing.T) {
	reg := newFakeRegistry()
	reg.addDevice("d1", resource.Control{Href: "http://dev/x-nmos/connection/v1.1/", Type: "urn:x-nmos:control:sr-ctrl/v1.1"})
	reg.addDevice("d2", resource.Control{Href: "http://dev/x-nmos/events/", Type: "urn:x-nmos:control:events/v1.0"})
	reg.addReceiver("r1", "Mon 1", "d1", nil)
	reg.addReceiver("r2", "Mon 2", "d2", nil)

	got, err := ResolveReceiverControl(context.Background(), reg, "r1")
	if err != nil {
		t.Fatalf("ResolveReceiverControl() error = %v", err)
	}
	if got != "http://dev/x-nmos/connection/v1.1/single/receivers/r1" {
		t.Errorf("url = %q", got)
	}

	if _, err := ResolveReceiverControl(context.Background(), reg, "r2"); !errors.Is(err, ErrNoControl) {
		t.Errorf("device without connection control: error = %v, want ErrNoControl", err)
	}
	if _, err := ResolveReceiverControl(context.Background(), reg, "missing"); err == nil {
		t.Error("unknown receiver: expected error")
	}
}
