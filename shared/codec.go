package shared

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// headerSize is sizeof(message_type) + sizeof(payload_len): a 4-byte
// message kind followed by an 8-byte payload length.
const headerSize = 4 + 8

// MaxFrameLen rejects a payload_len that is absurd before any allocation
// happens. 1<<32 bytes is far beyond any matrix this engine is meant to
// carry tile-by-tile and comfortably below what would overflow int on a
// 64-bit platform.
const MaxFrameLen = 1 << 32

// SendMessage writes the framed header and payload, retrying across short
// writes, and reports whether the full message went out.
func SendMessage(w io.Writer, msgType MessageType, payload []byte) bool {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(msgType))
	binary.LittleEndian.PutUint64(header[4:12], uint64(len(payload)))

	if !writeAll(w, header) {
		return false
	}
	if len(payload) == 0 {
		return true
	}
	return writeAll(w, payload)
}

func writeAll(w io.Writer, buf []byte) bool {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if n < 0 || err != nil {
			return false
		}
		buf = buf[n:]
	}
	return true
}

// ReceiveMessage reads exactly one framed message: the fixed header, then
// exactly payload_len payload bytes. Any short/zero read or error, or a
// payload_len that exceeds MaxFrameLen, yields the CLIENT_DISCONNECT
// sentinel with an empty payload — callers treat that as end-of-stream.
func ReceiveMessage(r io.Reader) (MessageType, []byte) {
	header := make([]byte, headerSize)
	if !readAll(r, header) {
		return ClientDisconnect, nil
	}

	msgType := MessageType(binary.LittleEndian.Uint32(header[0:4]))
	payloadLen := binary.LittleEndian.Uint64(header[4:12])
	if payloadLen > MaxFrameLen {
		return ClientDisconnect, nil
	}

	if payloadLen == 0 {
		return msgType, nil
	}

	payload := make([]byte, payloadLen)
	if !readAll(r, payload) {
		return ClientDisconnect, nil
	}
	return msgType, payload
}

func readAll(r io.Reader, buf []byte) bool {
	for len(buf) > 0 {
		n, err := r.Read(buf)
		if n <= 0 || err != nil {
			return false
		}
		buf = buf[n:]
	}
	return true
}

// SerializeMatrix encodes a Matrix as rows:i32 | cols:i32 | rows*cols*f64,
// all little-endian with no padding.
func SerializeMatrix(m Matrix) []byte {
	n := m.Rows() * m.Cols()
	buf := make([]byte, 8+8*n)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Rows()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Cols()))
	putFloat64s(buf[8:], m.Data())
	return buf
}

// DeserializeMatrix decodes a Matrix previously produced by SerializeMatrix.
func DeserializeMatrix(buf []byte) (Matrix, error) {
	if len(buf) < 8 {
		return Matrix{}, fmt.Errorf("shared: matrix payload too short: %d bytes", len(buf))
	}
	rows := int(binary.LittleEndian.Uint32(buf[0:4]))
	cols := int(binary.LittleEndian.Uint32(buf[4:8]))
	want := 8 + 8*rows*cols
	if len(buf) != want {
		return Matrix{}, fmt.Errorf("shared: matrix payload length %d, want %d for %dx%d", len(buf), want, rows, cols)
	}
	data := getFloat64s(buf[8:], rows*cols)
	return MatrixFromRowMajor(rows, cols, data), nil
}

// SerializeTask encodes a Task as six consecutive i32 fields, in struct
// declaration order.
func SerializeTask(t Task) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.TaskID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.StartRow))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t.EndRow))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(t.StartCol))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(t.EndCol))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(t.MatrixSize))
	return buf
}

// DeserializeTask decodes a Task previously produced by SerializeTask.
func DeserializeTask(buf []byte) (Task, error) {
	if len(buf) != 24 {
		return Task{}, fmt.Errorf("shared: task payload length %d, want 24", len(buf))
	}
	return Task{
		TaskID:     int32(binary.LittleEndian.Uint32(buf[0:4])),
		StartRow:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		EndRow:     int32(binary.LittleEndian.Uint32(buf[8:12])),
		StartCol:   int32(binary.LittleEndian.Uint32(buf[12:16])),
		EndCol:     int32(binary.LittleEndian.Uint32(buf[16:20])),
		MatrixSize: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}, nil
}

// SerializeResult encodes a Result as
// task_id|start_row|end_row|start_col|end_col (five i32), then the tile
// data ((end_row-start_row)*(end_col-start_col) f64), then
// execution_time_ms (one f64).
func SerializeResult(r Result) []byte {
	n := r.Rows() * r.Cols()
	buf := make([]byte, 20+8*n+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.TaskID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.StartRow))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.EndRow))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.StartCol))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.EndCol))
	putFloat64s(buf[20:20+8*n], r.ResultTile)
	binary.LittleEndian.PutUint64(buf[20+8*n:28+8*n], math.Float64bits(r.ExecutionTimeMs))
	return buf
}

// DeserializeResult decodes a Result previously produced by SerializeResult.
func DeserializeResult(buf []byte) (Result, error) {
	if len(buf) < 28 {
		return Result{}, fmt.Errorf("shared: result payload too short: %d bytes", len(buf))
	}
	r := Result{
		TaskID:   int32(binary.LittleEndian.Uint32(buf[0:4])),
		StartRow: int32(binary.LittleEndian.Uint32(buf[4:8])),
		EndRow:   int32(binary.LittleEndian.Uint32(buf[8:12])),
		StartCol: int32(binary.LittleEndian.Uint32(buf[12:16])),
		EndCol:   int32(binary.LittleEndian.Uint32(buf[16:20])),
	}
	n := r.Rows() * r.Cols()
	want := 20 + 8*n + 8
	if len(buf) != want {
		return Result{}, fmt.Errorf("shared: result payload length %d, want %d", len(buf), want)
	}
	r.ResultTile = getFloat64s(buf[20:20+8*n], n)
	r.ExecutionTimeMs = math.Float64frombits(binary.LittleEndian.Uint64(buf[20+8*n : 28+8*n]))
	return r, nil
}

// SerializeCPUInfo encodes the one-double CPU_INFO payload.
func SerializeCPUInfo(ghz float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(ghz))
	return buf
}

// DeserializeCPUInfo decodes the one-double CPU_INFO payload.
func DeserializeCPUInfo(buf []byte) (float64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("shared: cpu_info payload length %d, want 8", len(buf))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

func putFloat64s(dst []byte, src []float64) {
	for i, v := range src {
		binary.LittleEndian.PutUint64(dst[i*8:i*8+8], math.Float64bits(v))
	}
}

func getFloat64s(src []byte, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8 : i*8+8]))
	}
	return out
}
