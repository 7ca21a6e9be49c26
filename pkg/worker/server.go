package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	mpcontext "github.com/vnykmshr/multiproc/pkg/common/context"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/wire"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// Server serves the worker protocol for one controller.
type Server struct {
	// Registry resolves work references. Defaults to work.DefaultRegistry.
	Registry *work.Registry

	// Logger receives protocol problems. Defaults to a no-op logger.
	Logger *zap.Logger

	enc  *wire.Encoder
	mu   sync.Mutex
	jobs map[int64]*registration
	wg   sync.WaitGroup
}

type registration struct {
	work       work.Work
	handler    work.Handler
	resolveErr error
	perItem    bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// Serve runs the protocol with the default registry.
func Serve(ctx context.Context, r io.Reader, w io.Writer, reg *work.Registry) error {
	s := &Server{Registry: reg}
	return s.Serve(ctx, r, w)
}

// Serve reads requests from r until EOF, writing responses to w. Chunks
// still running at EOF are allowed to finish before Serve returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	if s.Registry == nil {
		s.Registry = work.DefaultRegistry
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	s.enc = wire.NewEncoder(w)
	s.jobs = make(map[int64]*registration)

	defer s.shutdown()

	dec := wire.NewDecoder(r)
	for {
		var req wire.Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		s.handle(ctx, &req)
	}
}

func (s *Server) handle(ctx context.Context, req *wire.Request) {
	switch {
	case req.DeregisterJob:
		s.deregister(req.JobID)
	case req.IsRegister():
		s.register(ctx, req)
	case req.IsRun():
		s.mu.Lock()
		reg := s.jobs[req.JobID]
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runChunk(reg, req)
		}()
	default:
		s.Logger.Warn("ignoring empty request", zap.Int64("job", req.JobID))
	}
}

func (s *Server) register(ctx context.Context, req *wire.Request) {
	w := work.FromRequest(req)
	h, err := s.Registry.Resolve(w)
	if err != nil {
		s.Logger.Warn("cannot resolve work", zap.Int64("job", req.JobID), zap.Stringer("work", w), zap.Error(err))
	}

	jobCtx, cancel := context.WithCancel(ctx)
	reg := &registration{
		work:       w,
		handler:    h,
		resolveErr: err,
		perItem:    req.PerItem,
		ctx:        jobCtx,
		cancel:     cancel,
	}

	s.mu.Lock()
	if old := s.jobs[req.JobID]; old != nil {
		old.cancel()
	}
	s.jobs[req.JobID] = reg
	s.mu.Unlock()
}

func (s *Server) deregister(jobID int64) {
	s.mu.Lock()
	reg := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()

	if reg != nil {
		reg.cancel()
	}
}

func (s *Server) shutdown() {
	s.wg.Wait()

	s.mu.Lock()
	for id, reg := range s.jobs {
		reg.cancel()
		delete(s.jobs, id)
	}
	s.mu.Unlock()
}

func (s *Server) runChunk(reg *registration, req *wire.Request) {
	if reg == nil {
		s.sendError(req.JobID, req.Index, fmt.Errorf("job %d is not registered", req.JobID))
		return
	}
	if reg.resolveErr != nil {
		s.sendError(req.JobID, req.Index, reg.resolveErr)
		return
	}

	items, err := wire.SplitChunk(req.ItemChunk)
	if err != nil {
		s.sendError(req.JobID, req.Index, err)
		return
	}
	if len(items) == 0 {
		s.send(&wire.Response{JobID: req.JobID, Index: req.Index, JobDone: true})
		return
	}

	var results []json.RawMessage
	if !reg.perItem {
		results = make([]json.RawMessage, len(items))
	}

	for offset, item := range items {
		index := req.Index + offset
		if mpcontext.IsCanceled(reg.ctx) {
			s.send(&wire.Response{JobID: req.JobID, Index: index, JobDone: true})
			return
		}

		out, err := work.Call(reg.ctx, reg.handler, item)
		if err != nil {
			s.sendError(req.JobID, index, err)
			return
		}
		raw, err := wire.Marshal(out)
		if err != nil {
			s.sendError(req.JobID, index, fmt.Errorf("encoding result: %w", err))
			return
		}

		if reg.perItem {
			s.send(&wire.Response{
				JobID:   req.JobID,
				Index:   index,
				Result:  raw,
				JobDone: offset == len(items)-1,
			})
		} else {
			results[offset] = raw
		}
	}

	if !reg.perItem {
		s.send(&wire.Response{
			JobID:      req.JobID,
			Index:      req.Index,
			ResultList: results,
			JobDone:    true,
		})
	}
}

func (s *Server) sendError(jobID int64, index int, err error) {
	resp := &wire.Response{
		JobID:   jobID,
		Index:   index,
		Error:   err.Error(),
		JobDone: true,
	}
	var werr *mperrors.WorkerError
	if errors.As(err, &werr) {
		resp.Stack = werr.Stack
	}
	if resp.Error == "" {
		resp.Error = "handler failed"
	}
	s.send(resp)
}

func (s *Server) send(resp *wire.Response) {
	if err := s.enc.Encode(resp); err != nil {
		s.Logger.Error("writing response", zap.Int64("job", resp.JobID), zap.Error(err))
	}
}
