package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. "upload_succeeded").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check when something fails.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID is the agent session identifier of a transcript.
	FieldSessionID = "session_id"
	// FieldPath is the filesystem path a log line refers to.
	FieldPath = "path"
	// FieldAgent is the coding agent a transcript came from.
	FieldAgent = "agent"
	// FieldOrgID is the upload destination organization.
	FieldOrgID = "org_id"
	// FieldRunID identifies one daemon process run.
	FieldRunID = "run_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)
