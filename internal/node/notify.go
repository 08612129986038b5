package node

import (
	"github.com/dhpke/nmos-core/internal/bridges/is07"
	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/registration"
	"github.com/dhpke/nmos-core/internal/resource"
	"github.com/dhpke/nmos-core/internal/routing"
)

// Hub event types published by the node.
const (
	BroadcastRegistration = "registration.status"
	BroadcastRouteChanged = "route.changed"
	BroadcastRouteFailed  = "route.failed"
)

// subscriptionSync mirrors endpoint activations into the resource graph
// and re-posts every resource whose version changed.
type subscriptionSync struct {
	graph     *resource.Graph
	registrar *registration.Registrar
	logger    connection.Logger
}

func (s *subscriptionSync) SubscriptionChanged(role connection.Role, id string, peerID *string, active bool) {
	var (
		changed []resource.Resource
		err     error
	)
	switch role {
	case connection.RoleReceiver:
		changed, err = s.graph.SetReceiverSubscription(id, peerID, active)
	case connection.RoleSender:
		changed, err = s.graph.SetSenderSubscription(id, peerID, active)
	}
	if err != nil {
		s.logger.Warn("subscription not recorded", "role", role, "id", id, "error", err)
		return
	}
	if s.registrar == nil {
		return
	}
	for _, r := range changed {
		s.registrar.Update(r)
	}
}

// routeTelemetry writes route outcomes as telemetry points.
type routeTelemetry struct {
	t Telemetry
}

func (n routeTelemetry) RouteChanged(c routing.Change) {
	n.t.WriteRouteChange(string(c.Op), c.SenderID, c.ReceiverID, true)
}

func (n routeTelemetry) RouteFailed(f routing.Failure) {
	n.t.WriteRouteChange(string(f.Op), f.SenderID, f.ReceiverID, false)
}

// routeBroadcast pushes route outcomes to UI clients.
type routeBroadcast struct {
	b is07.Broadcaster
}

func (n routeBroadcast) RouteChanged(c routing.Change) {
	n.b.Broadcast(BroadcastRouteChanged, c)
}

func (n routeBroadcast) RouteFailed(f routing.Failure) {
	n.b.Broadcast(BroadcastRouteFailed, f)
}
