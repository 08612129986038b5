package resource

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dhpke/nmos-core/internal/nmostime"
)

// Graph owns the resources of one node: the node itself, its devices, and
// their sources, flows, senders and receivers.
//
// Reads return deep copies. Every mutation bumps the version of each
// resource it touches, so versions strictly increase.
//
// All public methods are thread-safe.
type Graph struct {
	mu     sync.RWMutex
	nodeID string
	byID   map[string]Resource
	order  []string // insertion order, used to break rank ties
}

// NewGraph creates a graph rooted at node.
func NewGraph(node *Node) *Graph {
	g := &Graph{
		nodeID: node.ID,
		byID:   make(map[string]Resource),
	}
	g.byID[node.ID] = node.Clone()
	g.order = append(g.order, node.ID)
	return g
}

// NodeID returns the ID of the root node.
func (g *Graph) NodeID() string {
	return g.nodeID
}

// Add inserts a resource. Devices must reference the graph's node; other
// resources must reference a device already in the graph. Adding a sender
// or receiver also links it into its device.
func (g *Graph) Add(r Resource) error {
	if r == nil || r.Meta().ID == "" {
		return fmt.Errorf("%w: resource has no id", ErrInvalid)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := r.Meta().ID
	if _, exists := g.byID[id]; exists {
		return fmt.Errorf("%w: %s %s", ErrExists, r.Kind(), id)
	}

	var owner *Device
	switch v := r.(type) {
	case *Node:
		return fmt.Errorf("%w: graph already has a node", ErrInvalid)
	case *Device:
		if v.NodeID != g.nodeID {
			return fmt.Errorf("%w: device %s references node %q", ErrInvalid, id, v.NodeID)
		}
	case *Source:
		if _, err := g.device(v.DeviceID); err != nil {
			return err
		}
	case *Flow:
		if _, err := g.device(v.DeviceID); err != nil {
			return err
		}
		if _, ok := g.byID[v.SourceID].(*Source); !ok {
			return fmt.Errorf("%w: flow %s references unknown source %q", ErrInvalid, id, v.SourceID)
		}
	case *Sender:
		d, err := g.device(v.DeviceID)
		if err != nil {
			return err
		}
		if v.FlowID != nil {
			if _, ok := g.byID[*v.FlowID].(*Flow); !ok {
				return fmt.Errorf("%w: sender %s references unknown flow %q", ErrInvalid, id, *v.FlowID)
			}
		}
		if !slices.Contains(d.Senders, id) {
			d.Senders = append(d.Senders, id)
		}
		owner = d
	case *Receiver:
		d, err := g.device(v.DeviceID)
		if err != nil {
			return err
		}
		if !slices.Contains(d.Receivers, id) {
			d.Receivers = append(d.Receivers, id)
		}
		owner = d
	default:
		return fmt.Errorf("%w: unsupported resource %T", ErrInvalid, r)
	}

	g.byID[id] = r.Clone()
	g.order = append(g.order, id)
	if owner != nil {
		bump(owner)
	}
	return nil
}

// device returns the live device; callers hold g.mu.
func (g *Graph) device(id string) (*Device, error) {
	d, ok := g.byID[id].(*Device)
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, id)
	}
	return d, nil
}

// Get returns a copy of the resource with the given ID.
func (g *Graph) Get(id string) (Resource, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Ordered returns copies of all resources in registration order: node,
// devices, sources, flows, then senders and receivers. Resources of equal
// rank keep insertion order.
func (g *Graph) Ordered() []Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Resource, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.byID[id].Clone())
	}
	slices.SortStableFunc(out, func(a, b Resource) int {
		return a.Kind().Rank() - b.Kind().Rank()
	})
	return out
}

// Reverse returns Ordered reversed: leaves first, node last.
func (g *Graph) Reverse() []Resource {
	out := g.Ordered()
	slices.Reverse(out)
	return out
}

// List returns copies of every resource of type t in insertion order.
func (g *Graph) List(t Type) []Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Resource
	for _, id := range g.order {
		if r := g.byID[id]; r.Kind() == t {
			out = append(out, r.Clone())
		}
	}
	return out
}

// SetReceiverSubscription records the sender a receiver is connected to.
// It bumps the version of the receiver and its device and returns copies
// of both, receiver first.
func (g *Graph) SetReceiverSubscription(receiverID string, senderID *string, active bool) ([]Resource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rcv, ok := g.byID[receiverID].(*Receiver)
	if !ok {
		return nil, fmt.Errorf("%w: receiver %q", ErrNotFound, receiverID)
	}

	rcv.Subscription = ReceiverSubscription{SenderID: clonePtr(senderID), Active: active}
	return g.touch(rcv, rcv.DeviceID), nil
}

// SetSenderSubscription records the receiver a sender is sending to.
// It bumps the version of the sender and its device and returns copies of
// both, sender first.
func (g *Graph) SetSenderSubscription(senderID string, receiverID *string, active bool) ([]Resource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snd, ok := g.byID[senderID].(*Sender)
	if !ok {
		return nil, fmt.Errorf("%w: sender %q", ErrNotFound, senderID)
	}

	snd.Subscription = SenderSubscription{ReceiverID: clonePtr(receiverID), Active: active}
	return g.touch(snd, snd.DeviceID), nil
}

// touch bumps r and its owning device; callers hold g.mu.
func (g *Graph) touch(r Resource, deviceID string) []Resource {
	bump(r)
	out := []Resource{r.Clone()}
	if d, err := g.device(deviceID); err == nil {
		bump(d)
		out = append(out, d.Clone())
	}
	return out
}

func bump(r Resource) {
	m := r.Meta()
	m.Version = nmostime.Next(m.Version)
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
