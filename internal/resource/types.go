package resource

import (
	"maps"
	"slices"

	"github.com/dhpke/nmos-core/internal/nmostime"
)

// Type names a resource variant as it appears in registry envelopes.
type Type string

// Resource types, in registration dependency order.
const (
	TypeNode     Type = "node"
	TypeDevice   Type = "device"
	TypeSource   Type = "source"
	TypeFlow     Type = "flow"
	TypeSender   Type = "sender"
	TypeReceiver Type = "receiver"
)

// Plural returns the collection name used in URL paths ("senders", "flows").
func (t Type) Plural() string {
	return string(t) + "s"
}

// Rank returns the registration rank of the type. Lower ranks register first
// and unregister last. Senders and receivers share a rank.
func (t Type) Rank() int {
	switch t {
	case TypeNode:
		return 0
	case TypeDevice:
		return 1
	case TypeSource:
		return 2
	case TypeFlow:
		return 3
	case TypeSender, TypeReceiver:
		return 4
	default:
		return 5
	}
}

// Valid reports whether t is a known resource type.
func (t Type) Valid() bool {
	return t.Rank() < 5
}

// Control types advertised by devices.
const (
	// ControlConnection is the connection-control family. Advertised types
	// carry a version suffix, e.g. "urn:x-nmos:control:sr-ctrl/v1.1".
	ControlConnection = "urn:x-nmos:control:sr-ctrl"

	// ControlEvents is the event and tally control family.
	ControlEvents = "urn:x-nmos:control:events"
)

// Formats.
const (
	FormatVideo = "urn:x-nmos:format:video"
	FormatAudio = "urn:x-nmos:format:audio"
	FormatData  = "urn:x-nmos:format:data"
)

// Transports.
const (
	TransportRTP          = "urn:x-nmos:transport:rtp"
	TransportRTPMulticast = "urn:x-nmos:transport:rtp.mcast"
	TransportRTPUnicast   = "urn:x-nmos:transport:rtp.ucast"
	TransportMQTT         = "urn:x-nmos:transport:mqtt"
)

// DeviceTypeGeneric is the default device type.
const DeviceTypeGeneric = "urn:x-nmos:device:generic"

// Resource is implemented by every variant.
type Resource interface {
	// Kind returns the variant tag.
	Kind() Type

	// Meta returns the shared identity and version fields.
	Meta() *Core

	// Clone returns an independent deep copy.
	Clone() Resource
}

// Core holds the fields every resource carries.
// ID is immutable for the lifetime of the resource; Version strictly
// increases on every mutation.
type Core struct {
	ID          string              `json:"id"`
	Version     nmostime.Timestamp  `json:"version"`
	Label       string              `json:"label"`
	Description string              `json:"description"`
	Tags        map[string][]string `json:"tags"`
}

func (c Core) clone() Core {
	cpy := c
	if c.Tags != nil {
		cpy.Tags = make(map[string][]string, len(c.Tags))
		for k, v := range c.Tags {
			cpy.Tags[k] = slices.Clone(v)
		}
	}
	return cpy
}

// Endpoint is one API endpoint advertised by a node.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// API describes the node API versions and endpoints.
type API struct {
	Versions  []string   `json:"versions"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Clock is a named clock source. Event-only nodes use an internal clock.
type Clock struct {
	Name    string `json:"name"`
	RefType string `json:"ref_type"`
}

// Interface is a network interface of the node.
type Interface struct {
	Name      string `json:"name"`
	ChassisID string `json:"chassis_id,omitempty"`
	PortID    string `json:"port_id,omitempty"`
}

// Service is an additional service advertised by the node.
type Service struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

// Node is the top-level host resource.
type Node struct {
	Core
	Href       string         `json:"href"`
	Hostname   string         `json:"hostname,omitempty"`
	API        API            `json:"api"`
	Caps       map[string]any `json:"caps"`
	Services   []Service      `json:"services"`
	Clocks     []Clock        `json:"clocks"`
	Interfaces []Interface    `json:"interfaces"`
}

func (n *Node) Kind() Type  { return TypeNode }
func (n *Node) Meta() *Core { return &n.Core }

func (n *Node) Clone() Resource {
	cpy := *n
	cpy.Core = n.Core.clone()
	cpy.API.Versions = slices.Clone(n.API.Versions)
	cpy.API.Endpoints = slices.Clone(n.API.Endpoints)
	cpy.Caps = maps.Clone(n.Caps)
	cpy.Services = slices.Clone(n.Services)
	cpy.Clocks = slices.Clone(n.Clocks)
	cpy.Interfaces = slices.Clone(n.Interfaces)
	return &cpy
}

// Control locates a control API of a device.
type Control struct {
	Href          string `json:"href"`
	Type          string `json:"type"`
	Authorization bool   `json:"authorization"`
}

// Device groups the senders and receivers a node exposes.
type Device struct {
	Core
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id"`
	Senders   []string  `json:"senders"`
	Receivers []string  `json:"receivers"`
	Controls  []Control `json:"controls"`
}

func (d *Device) Kind() Type  { return TypeDevice }
func (d *Device) Meta() *Core { return &d.Core }

func (d *Device) Clone() Resource {
	cpy := *d
	cpy.Core = d.Core.clone()
	cpy.Senders = slices.Clone(d.Senders)
	cpy.Receivers = slices.Clone(d.Receivers)
	cpy.Controls = slices.Clone(d.Controls)
	return &cpy
}

// Source is an origin of essence or events.
type Source struct {
	Core
	Format    string         `json:"format"`
	Caps      map[string]any `json:"caps"`
	DeviceID  string         `json:"device_id"`
	Parents   []string       `json:"parents"`
	ClockName *string        `json:"clock_name"`
	EventType string         `json:"event_type,omitempty"`
}

func (s *Source) Kind() Type  { return TypeSource }
func (s *Source) Meta() *Core { return &s.Core }

func (s *Source) Clone() Resource {
	cpy := *s
	cpy.Core = s.Core.clone()
	cpy.Caps = maps.Clone(s.Caps)
	cpy.Parents = slices.Clone(s.Parents)
	return &cpy
}

// Flow is one encoding of a source.
type Flow struct {
	Core
	Format    string   `json:"format"`
	SourceID  string   `json:"source_id"`
	DeviceID  string   `json:"device_id"`
	Parents   []string `json:"parents"`
	MediaType string   `json:"media_type,omitempty"`
	EventType string   `json:"event_type,omitempty"`
}

func (f *Flow) Kind() Type  { return TypeFlow }
func (f *Flow) Meta() *Core { return &f.Core }

func (f *Flow) Clone() Resource {
	cpy := *f
	cpy.Core = f.Core.clone()
	cpy.Parents = slices.Clone(f.Parents)
	return &cpy
}

// SenderSubscription names the receiver a unicast sender is sending to.
type SenderSubscription struct {
	ReceiverID *string `json:"receiver_id"`
	Active     bool    `json:"active"`
}

// Sender transmits a flow.
type Sender struct {
	Core
	FlowID            *string            `json:"flow_id"`
	Transport         string             `json:"transport"`
	DeviceID          string             `json:"device_id"`
	ManifestHref      *string            `json:"manifest_href"`
	InterfaceBindings []string           `json:"interface_bindings"`
	Subscription      SenderSubscription `json:"subscription"`
}

func (s *Sender) Kind() Type  { return TypeSender }
func (s *Sender) Meta() *Core { return &s.Core }

func (s *Sender) Clone() Resource {
	cpy := *s
	cpy.Core = s.Core.clone()
	cpy.InterfaceBindings = slices.Clone(s.InterfaceBindings)
	return &cpy
}

// ReceiverCaps restricts what a receiver accepts.
type ReceiverCaps struct {
	MediaTypes []string `json:"media_types,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// ReceiverSubscription names the sender a receiver is connected to.
// It is the source of truth for route derivation.
type ReceiverSubscription struct {
	SenderID *string `json:"sender_id"`
	Active   bool    `json:"active"`
}

// Receiver consumes a flow.
type Receiver struct {
	Core
	Format            string               `json:"format"`
	Caps              ReceiverCaps         `json:"caps"`
	Transport         string               `json:"transport"`
	DeviceID          string               `json:"device_id"`
	InterfaceBindings []string             `json:"interface_bindings"`
	Subscription      ReceiverSubscription `json:"subscription"`
}

func (r *Receiver) Kind() Type  { return TypeReceiver }
func (r *Receiver) Meta() *Core { return &r.Core }

func (r *Receiver) Clone() Resource {
	cpy := *r
	cpy.Core = r.Core.clone()
	cpy.Caps.MediaTypes = slices.Clone(r.Caps.MediaTypes)
	cpy.Caps.EventTypes = slices.Clone(r.Caps.EventTypes)
	cpy.InterfaceBindings = slices.Clone(r.InterfaceBindings)
	return &cpy
}

// Envelope is the registration body {"type": ..., "data": ...}.
type Envelope struct {
	Type Type     `json:"type"`
	Data Resource `json:"data"`
}

// Wrap puts a resource in its registration envelope.
func Wrap(r Resource) Envelope {
	return Envelope{Type: r.Kind(), Data: r}
}
