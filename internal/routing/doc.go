// Package routing keeps a controller-side view of who is routed to whom and
// changes routes on remote receivers.
//
// A Reconciler polls the registry query API for senders and receivers and
// derives the route matrix from each receiver's subscription. A route change
// walks receiver -> device -> connection control, PATCHes the receiver's
// staged endpoint with an immediate activation, and only then updates the
// matrix. Snapshots save and restore the matrix by ID.
package routing
