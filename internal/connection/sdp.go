package connection

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"

	"github.com/dhpke/nmos-core/internal/resource"
)

// SDPContentType is the MIME type of session description transport files.
const SDPContentType = "application/sdp"

const multicastTTL = 32

// mediaProfile is the RTP payload advertised for a format.
type mediaProfile struct {
	media       string
	payloadType int
	rtpmap      string
	fmtp        string
}

func profileFor(format string) mediaProfile {
	switch format {
	case resource.FormatVideo:
		return mediaProfile{media: "video", payloadType: 96, rtpmap: "raw/90000",
			fmtp: "sampling=YCbCr-4:2:2; width=1920; height=1080; depth=10; colorimetry=BT709; PM=2110GPM; SSN=ST2110-20:2017"}
	case resource.FormatData:
		return mediaProfile{media: "video", payloadType: 100, rtpmap: "smpte291/90000"}
	default:
		return mediaProfile{media: "audio", payloadType: 97, rtpmap: "L24/48000/2", fmtp: "channel-order=SMPTE2110.(ST)"}
	}
}

// sdpParams is what a session description is templated from.
type sdpParams struct {
	sessionName string
	origin      string
	destination string
	source      string
	port        int
	format      string
	sessionID   uint64
}

// buildSDP renders a minimal RTP session description.
func buildSDP(p sdpParams) (string, error) {
	if p.destination == "" {
		return "", fmt.Errorf("%w: no destination address", ErrNoTransportFile)
	}
	if p.origin == "" {
		p.origin = p.destination
	}
	if p.port <= 0 {
		p.port = DefaultRTPPort
	}

	prof := profileFor(p.format)
	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addressType(p.destination),
		Address:     &sdp.Address{Address: p.destination},
	}
	if isMulticast(p.destination) {
		ttl := multicastTTL
		conn.Address.TTL = &ttl
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   prof.media,
			Port:    sdp.RangedPort{Value: p.port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(prof.payloadType)},
		},
		ConnectionInformation: conn,
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s", prof.payloadType, prof.rtpmap)),
		},
	}
	if prof.fmtp != "" {
		media.Attributes = append(media.Attributes,
			sdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", prof.payloadType, prof.fmtp)))
	}
	if p.source != "" && isMulticast(p.destination) {
		media.Attributes = append(media.Attributes, sdp.NewAttribute("source-filter",
			fmt.Sprintf(" incl IN %s %s %s", addressType(p.destination), p.destination, p.source)))
	}
	media.Attributes = append(media.Attributes,
		sdp.NewAttribute("ts-refclk", "localmac=00-00-00-00-00-00"),
		sdp.NewAttribute("mediaclk", "direct=0"),
	)

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.sessionID,
			SessionVersion: p.sessionID,
			NetworkType:    "IN",
			AddressType:    addressType(p.origin),
			UnicastAddress: p.origin,
		},
		SessionName: sdp.SessionName(p.sessionName),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshalling sdp: %w", err)
	}
	return string(out), nil
}

// receiverSDP templates a transport file from a receiver's active leg.
func (e *Endpoint) receiverSDP(active State) (string, error) {
	if !isRTP(e.transport) || len(active.TransportParams) == 0 {
		return "", ErrNoTransportFile
	}
	leg := active.TransportParams[0]

	dest := stringParam(leg, "multicast_ip")
	if dest == "" {
		dest = stringParam(leg, "interface_ip")
	}
	peer := ""
	if active.PeerID != nil {
		peer = *active.PeerID
	}

	return buildSDP(sdpParams{
		sessionName: e.id,
		origin:      stringParam(leg, "source_ip"),
		destination: dest,
		source:      stringParam(leg, "source_ip"),
		port:        intParam(leg, "destination_port"),
		format:      e.format,
		sessionID:   sessionID(e.id, peer),
	})
}

// senderSDP templates a sender's manifest from its resolved parameters.
func (e *Endpoint) senderSDP(active State) (string, error) {
	if !isRTP(e.transport) || len(active.TransportParams) == 0 {
		return "", ErrNoTransportFile
	}
	leg := active.TransportParams[0]

	return buildSDP(sdpParams{
		sessionName: e.id,
		origin:      stringParam(leg, "source_ip"),
		destination: stringParam(leg, "destination_ip"),
		source:      stringParam(leg, "source_ip"),
		port:        intParam(leg, "destination_port"),
		format:      e.format,
		sessionID:   sessionID(e.id, ""),
	})
}

// sessionID is derived from the endpoint and peer, so repeated activations
// of the same staged state produce identical transport files.
func sessionID(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64() >> 1
}

func isRTP(transport string) bool {
	switch transport {
	case resource.TransportRTP, resource.TransportRTPMulticast, resource.TransportRTPUnicast:
		return true
	default:
		return false
	}
}

func isMulticast(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsMulticast()
}

func addressType(addr string) string {
	if ip := net.ParseIP(addr); ip != nil && ip.To4() == nil {
		return "IP6"
	}
	return "IP4"
}

func stringParam(leg Params, key string) string {
	if s, ok := leg[key].(string); ok && s != Auto {
		return s
	}
	return ""
}

func intParam(leg Params, key string) int {
	if n, ok := asNumber(leg[key]); ok {
		return int(n)
	}
	return 0
}
