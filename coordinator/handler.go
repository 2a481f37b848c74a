package coordinator

import (
	"net"
	"time"

	"github.com/saifaleee/distmatmul/shared"
)

// handler owns one worker's TCP session. It holds a plain back-pointer to
// its Coordinator: Go's garbage collector and the construction order (the
// Coordinator always outlives every handler it spawns; each handler removes
// itself from the registry in finish when its session ends, and Stop ends
// every remaining session by closing its socket) make any explicit
// shared-ownership bookkeeping unnecessary here.
type handler struct {
	co   *Coordinator
	conn net.Conn
}

func newHandler(co *Coordinator, conn net.Conn) *handler {
	return &handler{co: co, conn: conn}
}

// run drives one worker session to completion: receive CPU_INFO, send
// matrix A then B, then loop on TASK_REQUEST/COMPUTATION_RESULT/
// CLIENT_DISCONNECT until the session ends.
func (h *handler) run() {
	defer h.finish()

	msgType, payload := shared.ReceiveMessage(h.conn)
	if msgType == shared.CPUInfo {
		ghz, err := shared.DeserializeCPUInfo(payload)
		if err != nil {
			h.co.log.Errorf("handler %s: bad cpu_info payload: %v", h.conn.RemoteAddr(), err)
			return
		}
		h.co.perfMu.Lock()
		h.co.perfInfo[h.conn] = &shared.WorkerCapability{CPUGHz: ghz, PerfRatio: ghz}
		h.co.perfMu.Unlock()
		h.co.log.Infof("worker %s reported %.2f GHz", h.conn.RemoteAddr(), ghz)
	} else if msgType == shared.ClientDisconnect {
		return
	} else {
		h.co.log.Errorf("handler %s: expected CPU_INFO, got %s", h.conn.RemoteAddr(), msgType)
		return
	}

	h.co.matMu.Lock()
	a, b := h.co.a, h.co.b
	h.co.matMu.Unlock()
	if !shared.SendMessage(h.conn, shared.MatrixData, shared.SerializeMatrix(a)) {
		return
	}
	if !shared.SendMessage(h.conn, shared.MatrixData, shared.SerializeMatrix(b)) {
		return
	}

	h.co.taskMu.Lock()
	h.co.clientTaskCnt[h.conn] = 0
	h.co.taskMu.Unlock()

	for h.co.running.Load() {
		msgType, payload := shared.ReceiveMessage(h.conn)

		switch msgType {
		case shared.TaskRequest:
			if !h.handleTaskRequest() {
				return
			}
		case shared.ComputationResult:
			result, err := shared.DeserializeResult(payload)
			if err != nil {
				h.co.log.Errorf("handler %s: bad result payload: %v", h.conn.RemoteAddr(), err)
				return
			}
			if err := h.handleResult(result); err != nil {
				h.co.log.Errorf("handler %s: %v", h.conn.RemoteAddr(), err)
				return
			}
		case shared.ClientDisconnect:
			h.co.log.Infof("worker %s disconnected", h.conn.RemoteAddr())
			return
		default:
			h.co.log.Errorf("handler %s: unexpected message %s in session loop", h.conn.RemoteAddr(), msgType)
			return
		}
	}
}

// handleTaskRequest implements the dispatch policy: wait until started or
// stopping, then either hand back SHUTDOWN (computation complete), NO_WORK
// (queue empty, not complete, or the fairness filter defers), or a
// TASK_RESPONSE.
func (h *handler) handleTaskRequest() bool {
	h.co.taskMu.Lock()
	for !h.co.started.Load() && h.co.running.Load() {
		h.co.taskCond.Wait()
	}
	if !h.co.running.Load() {
		h.co.taskMu.Unlock()
		return false
	}

	task, hasTask := h.popTaskLocked()
	h.co.taskMu.Unlock()

	if hasTask {
		if !shared.SendMessage(h.conn, shared.TaskResponse, shared.SerializeTask(task)) {
			return false
		}
		h.co.log.Infof("assigned task %d to %s", task.TaskID, h.conn.RemoteAddr())
		return true
	}

	if h.co.IsComplete() {
		shared.SendMessage(h.conn, shared.Shutdown, nil)
		return false
	}

	shared.SendMessage(h.conn, shared.NoWork, nil)
	time.Sleep(shared.NoWorkBackoffMs * time.Millisecond)
	return true
}

// popTaskLocked must be called with taskMu held. It applies the fairness
// filter and, if the candidate is admitted, pops and returns it.
func (h *handler) popTaskLocked() (shared.Task, bool) {
	if len(h.co.taskQueue) == 0 {
		return shared.Task{}, false
	}

	if h.shouldDeferLocked() {
		return shared.Task{}, false
	}

	task := h.co.taskQueue[0]
	h.co.taskQueue = h.co.taskQueue[1:]
	h.co.clientTaskCnt[h.conn]++
	return task, true
}

// shouldDeferLocked implements the fairness filter. Must be called with
// taskMu held.
func (h *handler) shouldDeferLocked() bool {
	keys, counts := h.co.snapshotTaskCounts()
	if len(keys) <= 1 {
		return false
	}

	myWeighted := float64(counts[h.conn]) / h.perfRatio(h.conn)
	numClients := len(keys)
	queueLen := len(h.co.taskQueue)

	if queueLen > numClients {
		return false
	}

	for _, other := range keys {
		if other == h.conn {
			continue
		}
		otherWeighted := float64(counts[other]) / h.perfRatio(other)
		if myWeighted > otherWeighted {
			return true
		}
	}
	return false
}

func (h *handler) perfRatio(conn net.Conn) float64 {
	h.co.perfMu.Lock()
	defer h.co.perfMu.Unlock()
	if info, ok := h.co.perfInfo[conn]; ok && info.PerfRatio > 0 {
		return info.PerfRatio
	}
	return 1.0
}

// handleResult updates performance tracking, decrements the in-flight
// counter, and commits the tile into C. A repeated task_id is a fatal
// protocol error for this session: the scheduler guarantees each task_id
// is dispatched exactly once, so a duplicate means the peer misbehaved.
func (h *handler) handleResult(result shared.Result) error {
	h.updatePerformance(result.ExecutionTimeMs)

	h.co.taskMu.Lock()
	h.co.clientTaskCnt[h.conn]--
	h.co.taskMu.Unlock()

	return h.co.processResult(result)
}

// updatePerformance applies the exponential-smoothing update:
// perf_ratio := (1-alpha)*perf_ratio + alpha*(1000/t_ms), only when
// t_ms > 0.
func (h *handler) updatePerformance(taskTimeMs float64) {
	h.co.perfMu.Lock()
	defer h.co.perfMu.Unlock()

	info, ok := h.co.perfInfo[h.conn]
	if !ok {
		info = &shared.WorkerCapability{PerfRatio: 1.0}
		h.co.perfInfo[h.conn] = info
	}
	info.LastTaskMs = taskTimeMs
	if taskTimeMs > 0 {
		newEstimate := 1000.0 / taskTimeMs
		info.PerfRatio = (1-shared.PerfSmoothingAlpha)*info.PerfRatio + shared.PerfSmoothingAlpha*newEstimate
	}
}

// finish closes the socket, removes this handler from the registry, and
// signals the Coordinator's WaitGroup. The handler removes itself from the
// registry only after closing its own socket, and does so without holding
// the registry lock across any blocking call.
func (h *handler) finish() {
	h.conn.Close()

	h.co.taskMu.Lock()
	delete(h.co.clientTaskCnt, h.conn)
	h.co.taskMu.Unlock()

	h.co.perfMu.Lock()
	delete(h.co.perfInfo, h.conn)
	h.co.perfMu.Unlock()

	h.co.clientsMu.Lock()
	delete(h.co.clients, h.conn)
	remaining := len(h.co.clients)
	h.co.clientsMu.Unlock()

	h.co.log.Infof("worker %s session ended (remaining %d)", h.conn.RemoteAddr(), remaining)
	h.co.wg.Done()
}
