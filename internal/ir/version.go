package ir

// Reported by `tablet --version`.
const (
	// CodecVersion is the binary row format of row_ops and row_mirror data.
	CodecVersion = "1"

	// EngineVersion is the tablet engine version.
	EngineVersion = "0.1.0"
)
