package audit

import (
	"context"
)

// Sources recorded on audit entries.
const (
	SourceAPI    = "api"
	SourceCLI    = "cli"
	SourceSystem = "system"
)

type actorKey struct{}

type actor struct {
	name   string
	source string
}

// WithActor attaches the acting principal and source to ctx. Entries
// recorded with the returned context carry them.
func WithActor(ctx context.Context, name, source string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{name: name, source: source})
}

func actorFrom(ctx context.Context) actor {
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		if a.source == "" {
			a.source = SourceSystem
		}
		return a
	}
	return actor{source: SourceSystem}
}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes audit entries without failing the operation being
// audited: repository errors are logged and dropped.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder over repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for dropped entries.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record stores a successful action. The actor and source come from ctx
// (see WithActor).
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	r.store(ctx, OutcomeOK, action, entityType, entityID, details)
}

// RecordFailure stores an action that did not complete. cause is kept in
// details under "error".
func (r *Recorder) RecordFailure(ctx context.Context, action, entityType, entityID string, cause error, details map[string]any) {
	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	if cause != nil {
		merged["error"] = cause.Error()
	}
	r.store(ctx, OutcomeFailed, action, entityType, entityID, merged)
}

func (r *Recorder) store(ctx context.Context, outcome, action, entityType, entityID string, details map[string]any) {
	a := actorFrom(ctx)
	entry := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      a.name,
		Source:     a.source,
		Outcome:    outcome,
		Details:    details,
	}
	// The audited operation may have been cancelled; the entry still lands.
	if err := r.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Warn("audit entry dropped", "action", action, "entity_id", entityID, "outcome", outcome, "error", err)
	}
}
