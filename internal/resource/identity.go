package resource

import (
	"github.com/google/uuid"

	"github.com/dhpke/nmos-core/internal/nmostime"
)

// namespace scopes name-based resource IDs.
var namespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// NewID returns a random resource ID.
func NewID() string {
	return uuid.NewString()
}

// DeriveID returns a stable ID for name under seed. A node restarted with the
// same seed re-registers with the same IDs instead of leaving orphans behind.
func DeriveID(seed, name string) string {
	if seed == "" {
		return NewID()
	}
	return uuid.NewSHA1(namespace, []byte(seed+"/"+name)).String()
}

// Identity is the context resource constructors need: who owns the
// resource and how the node is reachable.
type Identity struct {
	NodeID   string
	DeviceID string

	Label       string
	Description string
	Hostname    string

	// Href is the base URL of the node, e.g. "http://10.0.0.5:8080/".
	Href string

	// Host and Port advertise the node API endpoint.
	Host string
	Port int

	// NodeAPIVersion is advertised in the node's api.versions.
	NodeAPIVersion string

	// ConnectionAPIVersion is the IS-05 version the device's control
	// href serves, e.g. "v1.1".
	ConnectionAPIVersion string

	// Interface is the network interface name senders and receivers bind to.
	Interface string
}

func (id Identity) core(resourceID, label, description string) Core {
	if label == "" {
		label = id.Label
	}
	return Core{
		ID:          resourceID,
		Version:     nmostime.Now(),
		Label:       label,
		Description: description,
		Tags:        map[string][]string{},
	}
}

func (id Identity) bindings() []string {
	if id.Interface == "" {
		return []string{}
	}
	return []string{id.Interface}
}

// NewNode builds the node resource for id.
func NewNode(id Identity) *Node {
	n := &Node{
		Core:     id.core(id.NodeID, id.Label, id.Description),
		Href:     id.Href,
		Hostname: id.Hostname,
		API: API{
			Versions: []string{id.NodeAPIVersion},
			Endpoints: []Endpoint{
				{Host: id.Host, Port: id.Port, Protocol: "http"},
			},
		},
		Caps:       map[string]any{},
		Services:   []Service{},
		Clocks:     []Clock{{Name: "clk0", RefType: "internal"}},
		Interfaces: []Interface{},
	}
	if id.Interface != "" {
		n.Interfaces = append(n.Interfaces, Interface{Name: id.Interface})
	}
	return n
}

// NewDevice builds the device resource for id, advertising the connection
// API control at {Href}x-nmos/connection/{version}/.
func NewDevice(id Identity) *Device {
	d := &Device{
		Core:      id.core(id.DeviceID, id.Label, id.Description),
		Type:      DeviceTypeGeneric,
		NodeID:    id.NodeID,
		Senders:   []string{},
		Receivers: []string{},
		Controls:  []Control{},
	}
	if id.Href != "" && id.ConnectionAPIVersion != "" {
		d.Controls = append(d.Controls, Control{
			Href: joinHref(id.Href, "x-nmos/connection/"+id.ConnectionAPIVersion+"/"),
			Type: ControlConnection + "/" + id.ConnectionAPIVersion,
		})
	}
	return d
}

// NewSource builds a source owned by the identity's device. eventType is
// only set for data sources carrying event grains.
func NewSource(id Identity, sourceID, label, format, eventType string) *Source {
	clock := "clk0"
	return &Source{
		Core:      id.core(sourceID, label, ""),
		Format:    format,
		Caps:      map[string]any{},
		DeviceID:  id.DeviceID,
		Parents:   []string{},
		ClockName: &clock,
		EventType: eventType,
	}
}

// NewFlow builds a flow of src.
func NewFlow(id Identity, flowID, label string, src *Source, mediaType string) *Flow {
	return &Flow{
		Core:      id.core(flowID, label, ""),
		Format:    src.Format,
		SourceID:  src.ID,
		DeviceID:  id.DeviceID,
		Parents:   []string{},
		MediaType: mediaType,
		EventType: src.EventType,
	}
}

// NewSender builds a sender for flowID. The manifest href points at the
// sender's transport file on the node's connection API.
func NewSender(id Identity, senderID, label, flowID, transport string) *Sender {
	s := &Sender{
		Core:              id.core(senderID, label, ""),
		Transport:         transport,
		DeviceID:          id.DeviceID,
		InterfaceBindings: id.bindings(),
	}
	if flowID != "" {
		s.FlowID = &flowID
	}
	if id.Href != "" && id.ConnectionAPIVersion != "" {
		href := joinHref(id.Href, "x-nmos/connection/"+id.ConnectionAPIVersion+"/single/senders/"+senderID+"/transportfile")
		s.ManifestHref = &href
	}
	return s
}

// NewReceiver builds an unsubscribed receiver.
func NewReceiver(id Identity, receiverID, label, format, transport string, caps ReceiverCaps) *Receiver {
	return &Receiver{
		Core:              id.core(receiverID, label, ""),
		Format:            format,
		Caps:              caps,
		Transport:         transport,
		DeviceID:          id.DeviceID,
		InterfaceBindings: id.bindings(),
	}
}

func joinHref(base, path string) string {
	if base == "" {
		return path
	}
	if base[len(base)-1] != '/' {
		base += "/"
	}
	return base + path
}
