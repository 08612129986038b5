// Package is07 bridges IS-07 event grains between the MQTT broker and the
// node.
//
// Incoming grains are decoded, validated and dropped if they carry the
// node's own source ID. The rest are classified into command events which
// are kept in a recent-events buffer, written to telemetry, broadcast to UI
// clients and handed to any OnCommand listeners.
//
// Outgoing events are wrapped in grains for the node's own source and
// published on x-nmos/events/1.0/{source_id}/{event_type}, or on the
// broker_topic of the sender's last activation.
//
// StatusReporter publishes a retained node status message alongside.
package is07
