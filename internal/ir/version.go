package ir

// Version constants for the IR schema and engine.
const (
	// IRVersion is the compiled definition schema version.
	IRVersion = "1"

	// EngineVersion is the formsync engine version.
	EngineVersion = "0.1.0"
)
