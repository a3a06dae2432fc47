package session

import (
	"context"

	"netball/server/internal/sim"
)

type controlKind int

const (
	controlRollback controlKind = iota
	controlExport
	controlRestore
)

type controlRequest struct {
	kind   controlKind
	frames int
	data   []byte
	reply  chan controlResult
}

type controlResult struct {
	report   RollbackReport
	snapshot []byte
	frame    sim.Frame
	err      error
}

// RequestRollback asks the simulation goroutine to rewind frames frames and
// replay. It blocks until the request is serviced, ctx ends, or the session
// closes.
func (s *Session) RequestRollback(ctx context.Context, frames int) (RollbackReport, error) {
	res, err := s.submit(ctx, controlRequest{kind: controlRollback, frames: frames})
	if err != nil {
		return RollbackReport{}, err
	}
	return res.report, res.err
}

// RequestSnapshot asks the simulation goroutine for an encoded snapshot of
// the current frame.
func (s *Session) RequestSnapshot(ctx context.Context) ([]byte, error) {
	res, err := s.submit(ctx, controlRequest{kind: controlExport})
	if err != nil {
		return nil, err
	}
	return res.snapshot, res.err
}

// RequestRestore asks the simulation goroutine to adopt an encoded snapshot.
func (s *Session) RequestRestore(ctx context.Context, data []byte) (sim.Frame, error) {
	res, err := s.submit(ctx, controlRequest{kind: controlRestore, data: data})
	if err != nil {
		return 0, err
	}
	return res.frame, res.err
}

func (s *Session) submit(ctx context.Context, req controlRequest) (controlResult, error) {
	req.reply = make(chan controlResult, 1)
	select {
	case <-s.closed:
		return controlResult{}, ErrClosed
	default:
	}
	select {
	case s.controls <- req:
	case <-s.closed:
		return controlResult{}, ErrClosed
	case <-ctx.Done():
		return controlResult{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-s.closed:
		return controlResult{}, ErrClosed
	case <-ctx.Done():
		return controlResult{}, ctx.Err()
	}
}

// serviceControls runs every queued control request on the simulation
// goroutine.
func (s *Session) serviceControls() {
	for {
		select {
		case req := <-s.controls:
			req.reply <- s.handleControl(req)
		default:
			return
		}
	}
}

func (s *Session) handleControl(req controlRequest) controlResult {
	switch req.kind {
	case controlRollback:
		report, err := s.TriggerRollback(req.frames)
		return controlResult{report: report, err: err}
	case controlExport:
		data, err := s.ExportSnapshot()
		return controlResult{snapshot: data, err: err}
	case controlRestore:
		frame, err := s.RestoreSnapshot(req.data)
		return controlResult{frame: frame, err: err}
	}
	return controlResult{}
}
