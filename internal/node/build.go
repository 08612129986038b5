package node

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/infrastructure/config"
	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
)

// eventsName seeds the IDs of the node's own event source when no MQTT
// sender is configured.
const eventsName = "events"

// EventSource identifies where the node's own event grains come from.
type EventSource struct {
	SourceID string
	FlowID   string
}

func identity(cfg *config.Config) resource.Identity {
	seed := cfg.Node.Seed
	href := cfg.NodeHref()

	host := cfg.Node.Hostname
	port := cfg.API.Port
	if u, err := url.Parse(href); err == nil && u.Hostname() != "" {
		host = u.Hostname()
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = p
		}
	}

	return resource.Identity{
		NodeID:               resource.DeriveID(seed, "node"),
		DeviceID:             resource.DeriveID(seed, "device"),
		Label:                cfg.Node.Label,
		Description:          cfg.Node.Description,
		Hostname:             cfg.Node.Hostname,
		Href:                 href,
		Host:                 host,
		Port:                 port,
		NodeAPIVersion:       cfg.Node.NodeAPIVersion,
		ConnectionAPIVersion: cfg.Node.ConnectionAPIVersion,
		Interface:            cfg.Node.Interface,
	}
}

// buildGraph creates the resource graph and one endpoint per sender and
// receiver. It also returns the node's own event source.
func buildGraph(cfg *config.Config, id resource.Identity) (*resource.Graph, []*connection.Endpoint, EventSource, error) {
	seed := cfg.Node.Seed
	graph := resource.NewGraph(resource.NewNode(id))
	if err := graph.Add(resource.NewDevice(id)); err != nil {
		return nil, nil, EventSource{}, fmt.Errorf("adding device: %w", err)
	}

	brokerHost := cfg.Connection.BrokerHost
	if brokerHost == "" {
		brokerHost = cfg.MQTT.Broker.Host
	}

	var (
		endpoints []*connection.Endpoint
		events    EventSource
	)

	for _, s := range cfg.Node.Senders {
		format := orDefault(s.Format, resource.FormatVideo)
		transport := orDefault(s.Transport, resource.TransportRTP)
		label := orDefault(s.Label, s.Name)

		src := resource.NewSource(id, resource.DeriveID(seed, "source/"+s.Name), label, format, s.EventType)
		flow := resource.NewFlow(id, resource.DeriveID(seed, "flow/"+s.Name), label, src, s.MediaType)
		snd := resource.NewSender(id, resource.DeriveID(seed, "sender/"+s.Name), label, flow.ID, transport)

		for _, r := range []resource.Resource{src, flow, snd} {
			if err := graph.Add(r); err != nil {
				return nil, nil, EventSource{}, fmt.Errorf("adding sender %s: %w", s.Name, err)
			}
		}
		if transport == resource.TransportMQTT && events.SourceID == "" {
			events = EventSource{SourceID: src.ID, FlowID: flow.ID}
		}

		endpoints = append(endpoints, connection.NewEndpoint(connection.EndpointConfig{
			ID:          snd.ID,
			Role:        connection.RoleSender,
			Transport:   transport,
			Format:      format,
			Legs:        s.Legs,
			InterfaceIP: cfg.Node.InterfaceIP,
			MulticastIP: s.MulticastIP,
			BrokerHost:  brokerHost,
		}))
	}

	for _, r := range cfg.Node.Receivers {
		format := orDefault(r.Format, resource.FormatVideo)
		transport := orDefault(r.Transport, resource.TransportRTP)

		rcv := resource.NewReceiver(id, resource.DeriveID(seed, "receiver/"+r.Name),
			orDefault(r.Label, r.Name), format, transport,
			resource.ReceiverCaps{MediaTypes: r.MediaTypes, EventTypes: r.EventTypes})
		if err := graph.Add(rcv); err != nil {
			return nil, nil, EventSource{}, fmt.Errorf("adding receiver %s: %w", r.Name, err)
		}

		endpoints = append(endpoints, connection.NewEndpoint(connection.EndpointConfig{
			ID:          rcv.ID,
			Role:        connection.RoleReceiver,
			Transport:   transport,
			Format:      format,
			Legs:        r.Legs,
			InterfaceIP: cfg.Node.InterfaceIP,
			BrokerHost:  brokerHost,
		}))
	}

	// Events without an MQTT sender still need a registered source.
	if cfg.Events.Enabled && events.SourceID == "" {
		src := resource.NewSource(id, resource.DeriveID(seed, "source/"+eventsName),
			cfg.Node.Label+" events", resource.FormatData, cfg.Events.EventType)
		flow := resource.NewFlow(id, resource.DeriveID(seed, "flow/"+eventsName),
			cfg.Node.Label+" events", src, "application/json")
		for _, r := range []resource.Resource{src, flow} {
			if err := graph.Add(r); err != nil {
				return nil, nil, EventSource{}, fmt.Errorf("adding event source: %w", err)
			}
		}
		events = EventSource{SourceID: src.ID, FlowID: flow.ID}
	}

	return graph, endpoints, events, nil
}

// authorizer builds the registry authorizer for mode. The node ID is the
// subject of self-minted tokens.
func authorizer(a config.RegistryAuth, nodeID string) registry.Authorizer {
	switch a.Mode {
	case "bearer":
		return registry.BearerToken(a.Token)
	case "basic":
		return registry.BasicAuth{Username: a.Username, Password: a.Password}
	case "jwt":
		return &registry.JWTAuthorizer{
			Secret:   a.Secret,
			Issuer:   a.Issuer,
			Subject:  nodeID,
			Audience: a.Audience,
			TTL:      a.TTL,
		}
	default:
		return nil
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
