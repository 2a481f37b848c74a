// Package shared holds the wire protocol and data model shared by the
// coordinator and the worker: message framing, matrix/task/result payload
// encodings, and the handful of constants both sides agree on.
package shared

// MessageType identifies the kind of a framed protocol message.
type MessageType uint32

const (
	ClientConnect     MessageType = 1
	ClientDisconnect  MessageType = 2
	TaskRequest       MessageType = 3
	TaskResponse      MessageType = 4
	MatrixData        MessageType = 5
	ComputationResult MessageType = 6
	NoWork            MessageType = 7
	Shutdown          MessageType = 8
	CPUInfo           MessageType = 9
)

func (t MessageType) String() string {
	switch t {
	case ClientConnect:
		return "CLIENT_CONNECT"
	case ClientDisconnect:
		return "CLIENT_DISCONNECT"
	case TaskRequest:
		return "TASK_REQUEST"
	case TaskResponse:
		return "TASK_RESPONSE"
	case MatrixData:
		return "MATRIX_DATA"
	case ComputationResult:
		return "COMPUTATION_RESULT"
	case NoWork:
		return "NO_WORK"
	case Shutdown:
		return "SHUTDOWN"
	case CPUInfo:
		return "CPU_INFO"
	default:
		return "UNKNOWN"
	}
}

// Tile is the fixed output-tile edge length used for task decomposition.
const Tile = 64

// Task describes one rectangular sub-range of the output matrix C.
type Task struct {
	TaskID     int32
	StartRow   int32
	EndRow     int32
	StartCol   int32
	EndCol     int32
	MatrixSize int32 // shared inner dimension k
}

// Result is the computed tile for one Task.
type Result struct {
	TaskID          int32
	StartRow        int32
	EndRow          int32
	StartCol        int32
	EndCol          int32
	ResultTile      []float64 // row-major within the tile
	ExecutionTimeMs float64
}

// Rows reports the tile's row extent.
func (r Result) Rows() int { return int(r.EndRow - r.StartRow) }

// Cols reports the tile's column extent.
func (r Result) Cols() int { return int(r.EndCol - r.StartCol) }

// WorkerCapability is the per-active-session performance state the
// coordinator uses to drive the fairness filter.
type WorkerCapability struct {
	CPUGHz     float64
	LastTaskMs float64
	PerfRatio  float64
}

// PerfSmoothingAlpha is the exponential-smoothing factor applied to the
// per-worker performance ratio on every completed tile.
const PerfSmoothingAlpha = 0.3

// NoWorkBackoffMs is how long a worker sleeps after being told NO_WORK
// before it asks again.
const NoWorkBackoffMs = 200
