package shared

// Default demo matrix size and log level. These mirror the CLI's own defaults:
// `coord <port> [matrix_size=1000]`.
const (
	DefaultMatrixSize = 1000
	DefaultLogLevel   = "info"
)
