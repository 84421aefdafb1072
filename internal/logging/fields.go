package logging

const (
	// FieldComponent names the subsystem that emitted the line.
	FieldComponent = "component"
	// FieldEventType is a stable machine-readable tag for the event.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldStream is the converter stream (engine) index.
	FieldStream = "stream"
	// FieldDevice is the device node backing a converter.
	FieldDevice = "device"
	// FieldRunID identifies one conversion run.
	FieldRunID = "run_id"
	// FieldAlert flags anomalies that should stand out.
	FieldAlert = "alert"
)
