// Package coordinator implements the Master side of the engine: it owns
// the input matrices, the output matrix, the tile queue, and every
// scheduling decision.
package coordinator

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/saifaleee/distmatmul/shared"
)

// Sentinel errors for the coordinator's soft-failure policy: these are
// returned to the caller and logged, never panicked.
var (
	ErrDimensionMismatch = errors.New("coordinator: a.cols != b.rows")
	ErrAlreadyStarted    = errors.New("coordinator: computation already started")
	ErrNoWorkers         = errors.New("coordinator: no workers connected")
	ErrDuplicateResult   = errors.New("coordinator: duplicate result for task id")
	ErrAlreadyRunning    = errors.New("coordinator: already running")
)

// Coordinator holds the full computation state plus the listener and
// handler registry needed to run it.
type Coordinator struct {
	log *shared.Logger

	addr     string
	listener net.Listener

	running   atomic.Bool
	started   atomic.Bool
	completed atomic.Int64

	// task mutex + condvar: guards taskQueue, nextTaskID, totalTasks, and
	// clientTaskCount.
	taskMu        sync.Mutex
	taskCond      *sync.Cond
	taskQueue     []shared.Task
	nextTaskID    int32
	totalTasks    int
	clientTaskCnt map[net.Conn]int

	// performance mutex: guards per-worker capability metadata, updated
	// only on the result path.
	perfMu   sync.Mutex
	perfInfo map[net.Conn]*shared.WorkerCapability

	// clients mutex: guards the handler registry.
	clientsMu sync.Mutex
	clients   map[net.Conn]*handler
	wg        sync.WaitGroup

	// Matrices. Guarded by matMu while installing; C is written without a
	// lock afterward because tiles are disjoint by construction.
	matMu sync.Mutex
	a, b  shared.Matrix
	c     shared.Matrix

	// resultsMu guards the committed-task-id set used to detect a peer
	// replaying a result for a task_id that was already committed — the
	// scheduler never re-enqueues a dispatched task, so a repeat is a
	// fatal protocol error for that session.
	resultsMu sync.Mutex
	committed map[int32]struct{}
}

// New creates a Coordinator bound to addr (host:port, or ":0" for an
// ephemeral port). Nothing blocks until Start is called.
func New(addr string, log *shared.Logger) *Coordinator {
	co := &Coordinator{
		log:           log,
		addr:          addr,
		clientTaskCnt: make(map[net.Conn]int),
		perfInfo:      make(map[net.Conn]*shared.WorkerCapability),
		clients:       make(map[net.Conn]*handler),
		committed:     make(map[int32]struct{}),
	}
	co.taskCond = sync.NewCond(&co.taskMu)
	return co
}

// Addr returns the address the listener is actually bound to. Valid only
// after Start succeeds.
func (co *Coordinator) Addr() string {
	if co.listener == nil {
		return co.addr
	}
	return co.listener.Addr().String()
}

// Start binds the listening socket and begins accepting worker
// connections in a background goroutine.
func (co *Coordinator) Start() error {
	if co.running.Load() {
		return ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", co.addr)
	if err != nil {
		co.log.Errorf("start: listen on %s: %v", co.addr, err)
		return err
	}
	co.listener = ln
	co.running.Store(true)
	co.log.Infof("coordinator listening on %s", ln.Addr())

	go co.acceptLoop()
	return nil
}

// SetMatrices validates a.cols()==b.rows(), installs A and B (cloned so
// the caller's backing arrays are never aliased), allocates C, and
// generates the tiled task set. A dimension mismatch is a soft failure:
// it is logged and leaves prior state unchanged.
func (co *Coordinator) SetMatrices(a, b shared.Matrix) error {
	if a.Cols() != b.Rows() {
		co.log.Errorf("set_matrices: dimension mismatch: a.cols=%d b.rows=%d", a.Cols(), b.Rows())
		return ErrDimensionMismatch
	}

	co.matMu.Lock()
	co.a = a.Clone()
	co.b = b.Clone()
	co.c = shared.NewMatrix(a.Rows(), b.Cols())
	co.matMu.Unlock()

	co.createTiledTasks(a.Rows(), b.Cols(), a.Cols())
	return nil
}

// createTiledTasks partitions C into ceil(m/Tile) x ceil(n/Tile) tiles,
// row-major in iteration order, each a Task with an incrementing task_id
// starting at 0.
func (co *Coordinator) createTiledTasks(m, n, k int) {
	co.taskMu.Lock()
	defer co.taskMu.Unlock()

	co.taskQueue = co.taskQueue[:0]
	co.nextTaskID = 0
	co.completed.Store(0)

	co.resultsMu.Lock()
	co.committed = make(map[int32]struct{})
	co.resultsMu.Unlock()

	for r0 := 0; r0 < m; r0 += shared.Tile {
		r1 := r0 + shared.Tile
		if r1 > m {
			r1 = m
		}
		for c0 := 0; c0 < n; c0 += shared.Tile {
			c1 := c0 + shared.Tile
			if c1 > n {
				c1 = n
			}
			task := shared.Task{
				TaskID:     co.nextTaskID,
				StartRow:   int32(r0),
				EndRow:     int32(r1),
				StartCol:   int32(c0),
				EndCol:     int32(c1),
				MatrixSize: int32(k),
			}
			co.nextTaskID++
			co.taskQueue = append(co.taskQueue, task)
		}
	}
	co.totalTasks = len(co.taskQueue)
	co.log.Infof("created %d tiled tasks", co.totalTasks)
}

// StartComputation latches started=true and wakes every blocked handler.
// It fails softly (logs and returns an error, leaving state unchanged) if
// no workers are connected or if a computation is already started.
func (co *Coordinator) StartComputation() error {
	if co.started.Load() {
		co.log.Errorf("start_computation: already started")
		return ErrAlreadyStarted
	}
	if co.ClientCount() == 0 {
		co.log.Errorf("start_computation: no workers connected")
		return ErrNoWorkers
	}

	co.started.Store(true)
	co.taskMu.Lock()
	co.taskCond.Broadcast()
	co.taskMu.Unlock()
	co.log.Infof("computation started with %d connected workers", co.ClientCount())
	return nil
}

// IsComplete reports started && completed >= total. The atomic completed
// counter is the release/acquire boundary between a handler's last tile
// write into C and this observation.
func (co *Coordinator) IsComplete() bool {
	if !co.started.Load() {
		return false
	}
	co.taskMu.Lock()
	total := co.totalTasks
	co.taskMu.Unlock()
	return co.completed.Load() >= int64(total)
}

// Result returns the output matrix. Only meaningful after IsComplete.
func (co *Coordinator) Result() shared.Matrix {
	co.matMu.Lock()
	defer co.matMu.Unlock()
	return co.c
}

// ClientCount returns the number of currently registered worker sessions.
func (co *Coordinator) ClientCount() int {
	co.clientsMu.Lock()
	defer co.clientsMu.Unlock()
	return len(co.clients)
}

// Stop flips running=false, wakes all waiters, sends SHUTDOWN to every
// registered worker, joins the handler goroutines, and closes the listen
// socket. It takes a registry snapshot under the clients mutex and drops
// the lock before joining, so a handler removing itself from the registry
// never deadlocks against this call.
func (co *Coordinator) Stop() {
	if !co.running.CompareAndSwap(true, false) {
		return
	}

	co.taskMu.Lock()
	co.taskCond.Broadcast()
	co.taskMu.Unlock()

	co.clientsMu.Lock()
	snapshot := make([]*handler, 0, len(co.clients))
	for _, h := range co.clients {
		snapshot = append(snapshot, h)
	}
	co.clientsMu.Unlock()

	for _, h := range snapshot {
		shared.SendMessage(h.conn, shared.Shutdown, nil)
		h.conn.Close()
	}

	co.wg.Wait()

	if co.listener != nil {
		co.listener.Close()
	}
}

// acceptLoop blocks in Accept until running turns false. A failing accept
// while running is logged and the loop continues.
func (co *Coordinator) acceptLoop() {
	for co.running.Load() {
		conn, err := co.listener.Accept()
		if err != nil {
			if co.running.Load() {
				co.log.Errorf("accept: %v", err)
				continue
			}
			return
		}

		h := newHandler(co, conn)
		co.clientsMu.Lock()
		co.clients[conn] = h
		co.clientsMu.Unlock()
		co.wg.Add(1)

		co.log.Infof("worker connected: %s (total %d)", conn.RemoteAddr(), co.ClientCount())
		go h.run()
	}
}

// snapshotTaskCounts returns a deterministic (sorted by remote address)
// copy of the current per-worker task counts, used by the fairness filter
// so tied admission decisions are reproducible across runs — grounded in
// the pack's use of golang.org/x/exp/slices for deterministic iteration
// over map-backed registries.
func (co *Coordinator) snapshotTaskCounts() ([]net.Conn, map[net.Conn]int) {
	keys := make([]net.Conn, 0, len(co.clientTaskCnt))
	for k := range co.clientTaskCnt {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y net.Conn) int {
		return strings.Compare(x.RemoteAddr().String(), y.RemoteAddr().String())
	})
	snapshot := make(map[net.Conn]int, len(co.clientTaskCnt))
	for k, v := range co.clientTaskCnt {
		snapshot[k] = v
	}
	return keys, snapshot
}

// processResult copies result.ResultTile into C at its bounds using the
// tile's local row-major layout, then increments completedTasks. C is
// written without a lock: tile ranges are disjoint by construction, so
// concurrent handlers never touch the same cells.
func (co *Coordinator) processResult(result shared.Result) error {
	co.resultsMu.Lock()
	if _, dup := co.committed[result.TaskID]; dup {
		co.resultsMu.Unlock()
		return ErrDuplicateResult
	}
	co.committed[result.TaskID] = struct{}{}
	co.resultsMu.Unlock()

	tileCols := result.Cols()
	co.matMu.Lock()
	c := co.c
	co.matMu.Unlock()

	for row := int(result.StartRow); row < int(result.EndRow); row++ {
		for col := int(result.StartCol); col < int(result.EndCol); col++ {
			localRow := row - int(result.StartRow)
			localCol := col - int(result.StartCol)
			c.Set(row, col, result.ResultTile[localRow*tileCols+localCol])
		}
	}

	co.completed.Add(1)
	if co.IsComplete() {
		co.taskMu.Lock()
		total := co.totalTasks
		co.taskMu.Unlock()
		co.log.Infof("computation complete: %d tasks", total)
	}
	return nil
}
