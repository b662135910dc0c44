package tracing

// Span attribute keys.
const (
	AttrRunID      = "run.id"
	AttrRunOutcome = "run.outcome"
	AttrUnitCount  = "run.unit_count"
	AttrEdgeCount  = "run.edge_count"

	AttrUnitName  = "unit.name"
	AttrUnitKind  = "unit.kind"
	AttrUnitState = "unit.state"
	AttrWorkerID  = "worker.id"

	AttrShutdownReason = "shutdown.reason"

	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanRun        = "scheduler.run"
	SpanCompile    = "scheduler.compile"
	SpanPrefixUnit = "unit."
)

// Span event names.
const (
	EventNodeAdmitted      = "node.admitted"
	EventNodeSkipped       = "node.skipped"
	EventShutdownRequested = "shutdown.requested"
)
