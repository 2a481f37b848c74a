// Package worker implements the Client side of the engine: the session
// state machine, dialing a coordinator, handshaking, and looping on task
// requests until shutdown or disconnect.
package worker

import (
	"fmt"
	"net"
	"time"

	"github.com/saifaleee/distmatmul/kernel"
	"github.com/saifaleee/distmatmul/shared"
)

// Session drives one worker's connection to the coordinator through
// INIT -> CONNECTED -> HANDSHAKED -> READY -> (AWAIT <-> COMPUTING) ->
// TERMINATED.
type Session struct {
	log  *shared.Logger
	conn net.Conn
	a, b shared.Matrix
}

// Dial connects to addr, sends the declared CPU_INFO handshake, and
// receives matrix A then B. Any deviation (wrong message kind, short read)
// is a connect failure.
func Dial(addr string, log *shared.Logger) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Errorf("dial %s: %v", addr, err)
		return nil, err
	}

	s := &Session{log: log, conn: conn}

	ghz := DetectCPUGHz()
	if !shared.SendMessage(conn, shared.CPUInfo, shared.SerializeCPUInfo(ghz)) {
		conn.Close()
		return nil, fmt.Errorf("worker: failed to send cpu_info")
	}
	log.Infof("reported %.2f GHz to %s", ghz, addr)

	a, err := s.recvMatrix()
	if err != nil {
		conn.Close()
		return nil, err
	}
	b, err := s.recvMatrix()
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.a, s.b = a, b
	log.Infof("received matrices: A(%dx%d) B(%dx%d)", a.Rows(), a.Cols(), b.Rows(), b.Cols())

	return s, nil
}

func (s *Session) recvMatrix() (shared.Matrix, error) {
	msgType, payload := shared.ReceiveMessage(s.conn)
	if msgType != shared.MatrixData {
		return shared.Matrix{}, fmt.Errorf("worker: expected MATRIX_DATA, got %s", msgType)
	}
	return shared.DeserializeMatrix(payload)
}

// Run loops: send TASK_REQUEST, act on the response, until SHUTDOWN,
// CLIENT_DISCONNECT, an unexpected message kind, or a socket error.
func (s *Session) Run() {
	defer s.conn.Close()

	for {
		if !shared.SendMessage(s.conn, shared.TaskRequest, nil) {
			s.log.Errorf("failed to send task_request")
			return
		}

		msgType, payload := shared.ReceiveMessage(s.conn)
		switch msgType {
		case shared.TaskResponse:
			task, err := shared.DeserializeTask(payload)
			if err != nil {
				s.log.Errorf("bad task payload: %v", err)
				return
			}
			result := s.compute(task)
			if !shared.SendMessage(s.conn, shared.ComputationResult, shared.SerializeResult(result)) {
				s.log.Errorf("failed to send result for task %d", task.TaskID)
				return
			}
		case shared.NoWork:
			time.Sleep(shared.NoWorkBackoffMs * time.Millisecond)
		case shared.Shutdown, shared.ClientDisconnect:
			s.log.Infof("session terminated (%s)", msgType)
			return
		default:
			s.log.Errorf("unexpected message %s in AWAIT state", msgType)
			return
		}
	}
}

// compute runs the kernel against task's bounds, timing the call with a
// monotonic clock and attaching the elapsed milliseconds to the Result.
func (s *Session) compute(task shared.Task) shared.Result {
	start := time.Now()
	tile := kernel.Multiply(s.a, s.b, int(task.StartRow), int(task.EndRow), int(task.StartCol), int(task.EndCol))
	elapsed := time.Since(start)

	return shared.Result{
		TaskID:          task.TaskID,
		StartRow:        task.StartRow,
		EndRow:          task.EndRow,
		StartCol:        task.StartCol,
		EndCol:          task.EndCol,
		ResultTile:      tile,
		ExecutionTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	}
}
