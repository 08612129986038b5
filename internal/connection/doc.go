// Package connection implements the staged/active connection state of
// senders and receivers.
//
// A PATCH is decoded by DecodePatch, validated against the endpoint's
// constraints, and merged into staged by ApplyStagedPatch. ActivateIfDue
// copies staged into active when its activation is due; every activation
// notifies the SubscriptionNotifier and emits an Activated event.
//
// Endpoints do not own timers. Manager runs the scheduler that polls
// scheduled activations, and Client drives remote endpoints for
// controllers.
package connection
