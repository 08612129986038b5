// Package resource models the registrable resources of a node: Node,
// Device, Source, Flow, Sender and Receiver.
//
// Each variant is a plain struct built by a constructor that takes the
// node's Identity. Serialization is uniform: Wrap puts any variant in the
// {"type", "data"} envelope the registration API expects.
//
// Graph owns a node's resources, keeps registration order, and bumps
// versions on every mutation.
package resource
