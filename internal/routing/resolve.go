package routing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhpke/nmos-core/internal/resource"
)

// FallbackConnectionVersion is used when a control type carries no version.
const FallbackConnectionVersion = "v1.0"

// versionSegment matches a path segment like "v1.1".
var versionSegment = regexp.MustCompile(`^v\d+\.\d+$`)

// trailingSegments are stripped from advertised hrefs before the canonical
// suffix is appended.
var trailingSegments = map[string]bool{
	"single":    true,
	"bulk":      true,
	"senders":   true,
	"receivers": true,
}

// ControlVersion parses the version token from a control type such as
// "urn:x-nmos:control:sr-ctrl/v1.1". ok is false when the type is not the
// connection control family.
func ControlVersion(controlType string) (version string, ok bool) {
	rest, found := strings.CutPrefix(controlType, resource.ControlConnection)
	if !found {
		return "", false
	}
	rest = strings.TrimPrefix(rest, "/")
	if versionSegment.MatchString(rest) {
		return rest, true
	}
	if rest == "" {
		return FallbackConnectionVersion, true
	}
	return "", false
}

// ReceiverControlURL normalises an advertised control href into the
// canonical "{base}/{version}/single/receivers/{id}" URL. Trailing
// operation-mode and version segments are removed first, so hrefs with a
// version, with "single" or "bulk", or with neither, all converge.
func ReceiverControlURL(href, version, receiverID string) string {
	base := strings.TrimRight(href, "/")
	for {
		i := strings.LastIndex(base, "/")
		if i < 0 {
			break
		}
		seg := base[i+1:]
		if !trailingSegments[seg] && !versionSegment.MatchString(seg) {
			break
		}
		base = base[:i]
	}
	return base + "/" + version + "/single/receivers/" + receiverID
}

// ResolveReceiverControl finds the connection API URL of a receiver:
// receiver -> owning device -> connection control -> canonical URL.
func ResolveReceiverControl(ctx context.Context, reg Registry, receiverID string) (string, error) {
	rcv, err := reg.GetReceiver(ctx, receiverID)
	if err != nil {
		return "", fmt.Errorf("fetching receiver %s: %w", receiverID, err)
	}
	dev, err := reg.GetDevice(ctx, rcv.DeviceID)
	if err != nil {
		return "", fmt.Errorf("fetching device %s: %w", rcv.DeviceID, err)
	}

	for _, c := range dev.Controls {
		version, ok := ControlVersion(c.Type)
		if !ok || c.Href == "" {
			continue
		}
		return ReceiverControlURL(c.Href, version, receiverID), nil
	}
	return "", fmt.Errorf("%w: device %s (receiver %s)", ErrNoControl, dev.ID, receiverID)
}
