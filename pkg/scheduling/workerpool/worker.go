package workerpool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"

	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/wire"
	"github.com/vnykmshr/multiproc/pkg/worker"
)

// workerHandle owns one worker slot. The process behind it is replaced
// after a timeout or an unexpected exit, the slot itself lives as long as
// the pool. Every method runs with pool.mu held.
type workerHandle struct {
	pool *Pool
	id   int
	proc *process

	jobs       map[int64]*registration
	running    int
	current    int64
	terminated bool
	idle       bool

	timer    *time.Timer
	timerGen uint64
	timeout  time.Duration
	perChunk bool
}

// registration is a job known to a worker.
type registration struct {
	job        *job
	terminated bool
}

// process is one execution of the worker command.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *wire.Encoder
	pid     int
	killed  bool
	closing bool
}

func newWorkerHandle(p *Pool, id int) *workerHandle {
	return &workerHandle{
		pool: p,
		id:   id,
		jobs: make(map[int64]*registration),
		idle: true,
	}
}

func (h *workerHandle) log() *zap.Logger {
	l := h.pool.logger.With(zap.Int("worker", h.id))
	if h.proc != nil {
		l = l.With(zap.Int("pid", h.proc.pid))
	}
	return l
}

// spawn starts a new process for the slot and replays every live
// registration to it.
func (h *workerHandle) spawn() error {
	p := h.pool

	cmd := exec.Command(p.command, p.config.Args...)
	cmd.Env = append(append(os.Environ(), p.config.Env...), worker.Env(h.id)...)
	cmd.Dir = p.config.Dir
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	proc := &process{
		cmd:   cmd,
		stdin: stdin,
		enc:   wire.NewEncoder(stdin),
		pid:   cmd.Process.Pid,
	}
	h.proc = proc

	p.procs.Add(1)
	go h.read(proc, stdout)

	ids := make([]int64, 0, len(h.jobs))
	for id, reg := range h.jobs {
		if !reg.terminated {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.sendRegister(h.jobs[id].job)
	}

	h.log().Debug("worker process started", zap.Int("replayed_jobs", len(ids)))
	return nil
}

// read pumps responses from one process until its stdout closes, then
// reaps it.
func (h *workerHandle) read(proc *process, stdout io.Reader) {
	p := h.pool
	defer p.procs.Done()

	dec := wire.NewDecoder(stdout)
	var readErr error
	for {
		var resp wire.Response
		if err := dec.Decode(&resp); err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
				_ = proc.cmd.Process.Kill()
			}
			break
		}
		p.mu.Lock()
		h.handleResponse(proc, &resp)
		p.mu.Unlock()
	}

	waitErr := proc.cmd.Wait()

	p.mu.Lock()
	h.handleExit(proc, readErr, waitErr)
	p.mu.Unlock()
}

func (h *workerHandle) send(req *wire.Request) {
	if h.proc == nil || h.proc.killed || h.proc.closing {
		return
	}
	if err := h.proc.enc.Encode(req); err != nil {
		h.log().Warn("sending to worker failed", zap.Int64("job", req.JobID), zap.Error(err))
	}
}

func (h *workerHandle) sendRegister(j *job) {
	req := j.work.Request(j.id, j.timeout > 0)
	h.send(&req)
}

// registerJob records j and ships its work reference to the process.
func (h *workerHandle) registerJob(j *job) {
	if h.terminated {
		return
	}
	h.jobs[j.id] = &registration{job: j}
	h.sendRegister(j)
}

// runJob sends one chunk of j starting at absolute index start.
func (h *workerHandle) runJob(j *job, start int, chunk []byte) {
	if h.terminated {
		return
	}
	h.send(&wire.Request{JobID: j.id, Index: start, ItemChunk: chunk})
	h.running++
	h.current = j.id
	h.timeout = j.timeout
	h.perChunk = j.perChunk
	if j.timeout > 0 {
		h.startTimer(j.id, j.timeout)
	}
}

// deregisterJob forgets jobID here and in the process.
func (h *workerHandle) deregisterJob(jobID int64) {
	if h.terminated {
		return
	}
	if _, ok := h.jobs[jobID]; !ok {
		return
	}
	delete(h.jobs, jobID)
	h.send(&wire.Request{JobID: jobID, DeregisterJob: true})
}

func (h *workerHandle) handleResponse(proc *process, resp *wire.Response) {
	if proc != h.proc {
		return
	}
	if !h.perChunk {
		h.stopTimer()
	}

	var err error
	if resp.Failed() {
		err = &mperrors.WorkerError{Message: resp.Error, Stack: resp.Stack}
	}
	done := resp.JobDone || err != nil

	reg, ok := h.jobs[resp.JobID]
	if ok && reg.terminated {
		return
	}

	if done {
		h.stopTimer()
		h.finishChunk()
	} else if h.timeout > 0 && !h.perChunk {
		h.startTimer(resp.JobID, h.timeout)
	}

	if ok {
		h.pool.handleResult(reg.job, h, err, resp)
	}
	if done {
		h.pool.release(h)
	}
}

func (h *workerHandle) finishChunk() {
	if h.running > 0 {
		h.running--
	}
	h.timeout = 0
	h.perChunk = false
}

// handleExit runs once the process has been reaped.
func (h *workerHandle) handleExit(proc *process, readErr, waitErr error) {
	if proc.killed || proc.closing {
		h.pool.logger.Debug("worker process exited",
			zap.Int("worker", h.id), zap.Int("pid", proc.pid))
		return
	}

	h.pool.logger.Warn("worker process exited unexpectedly",
		zap.Int("worker", h.id),
		zap.Int("pid", proc.pid),
		zap.NamedError("read_error", readErr),
		zap.NamedError("exit", waitErr))

	if proc != h.proc {
		return
	}
	h.stopTimer()
	h.proc = nil

	var failed *registration
	if h.running > 0 {
		failed = h.jobs[h.current]
		if failed != nil {
			failed.terminated = true
		}
	}
	h.running = 0
	h.timeout = 0

	h.recycle("exited")

	if failed != nil {
		h.pool.handleResult(failed.job, h, fmt.Errorf("worker %d: %w", h.id, mperrors.ErrWorkerExited), nil)
	}
	h.pool.release(h)
}

// onTimeout fires when the process has not answered within the job
// timeout. The process is killed and replaced, the job fails.
func (h *workerHandle) onTimeout(jobID int64) {
	reg := h.jobs[jobID]
	if reg != nil {
		reg.terminated = true
	}

	h.log().Warn("task timed out, replacing worker process",
		zap.Int64("job", jobID),
		zap.Duration("timeout", h.timeout))

	h.kill()
	h.running = 0
	h.timeout = 0
	h.recycle("timeout")

	if reg != nil {
		h.pool.handleResult(reg.job, h, mperrors.ErrTimeout, nil)
	}
	h.pool.release(h)
}

// recycle starts a replacement process unless the slot is shutting down.
func (h *workerHandle) recycle(reason string) {
	if h.terminated {
		return
	}
	h.pool.restarts++
	if h.pool.metrics != nil {
		h.pool.metrics.WorkerRestarts.WithLabelValues(h.pool.name, reason).Inc()
	}
	if err := h.spawn(); err != nil {
		h.proc = nil
		h.log().Error("cannot replace worker process", zap.Error(err))
	}
}

func (h *workerHandle) kill() {
	proc := h.proc
	if proc == nil || proc.killed {
		return
	}
	proc.killed = true
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.log().Warn("killing worker process", zap.Error(err))
	}
	h.proc = nil
}

func (h *workerHandle) closeInput() {
	proc := h.proc
	if proc == nil || proc.killed || proc.closing {
		return
	}
	proc.closing = true
	if err := proc.stdin.Close(); err != nil {
		h.log().Debug("closing worker stdin", zap.Error(err))
	}
}

// terminateImmediately kills the process and fails every job still
// registered here with ErrTerminated.
func (h *workerHandle) terminateImmediately() {
	h.terminated = true
	h.stopTimer()
	h.kill()
	h.running = 0

	regs := h.jobs
	h.jobs = make(map[int64]*registration)

	ids := make([]int64, 0, len(regs))
	for id := range regs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if reg := regs[id]; !reg.terminated {
			h.pool.handleResult(reg.job, h, mperrors.ErrTerminated, nil)
		}
	}
}

// terminateAfterJobsComplete lets the running chunk finish, then closes the
// process input so it exits on its own.
func (h *workerHandle) terminateAfterJobsComplete() {
	h.terminated = true
	if h.running == 0 {
		h.closeInput()
	}
}

func (h *workerHandle) startTimer(jobID int64, d time.Duration) {
	h.stopTimer()
	gen := h.timerGen
	h.timer = time.AfterFunc(d, func() {
		h.pool.mu.Lock()
		defer h.pool.mu.Unlock()
		if gen != h.timerGen || h.timer == nil {
			return
		}
		h.timer = nil
		h.onTimeout(jobID)
	})
}

func (h *workerHandle) stopTimer() {
	h.timerGen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
