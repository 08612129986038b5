// Package node assembles one running NMOS node from configuration.
//
// Start builds the resource graph (node, device, and a source, flow and
// sender per configured sender plus one receiver per configured receiver),
// a connection endpoint per sender and receiver, the registrar, the
// controller-side reconciler and the event bridge, and returns an *Instance
// handle. The handle is passed explicitly to the API server; nothing is
// looked up globally.
//
// Endpoint activations flow back into the graph: a receiver activated with
// a sender_id updates its subscription, bumps its version (and its
// device's) and is re-posted to the registry.
package node
