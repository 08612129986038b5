// Package audit records who changed what on the node: route and disconnect
// executions (including failed ones), snapshot operations and
// re-registration requests. Entries live in the audit_logs table and are
// listed newest first, filtered by action, entity, actor, outcome or time.
package audit
