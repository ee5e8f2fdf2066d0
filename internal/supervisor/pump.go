package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"clocktrack/internal/model"
	"clocktrack/internal/sampler"
)

// pump persists sampler messages until the sampler closes out. It keeps
// draining after ctx is cancelled so the final messages are stored.
func (s *Supervisor) pump(ctx context.Context, r *run, out <-chan sampler.Message) {
	defer close(r.done)
	store := context.WithoutCancel(ctx)
	for msg := range out {
		s.handleMessage(store, r, msg)
	}
}

func (s *Supervisor) handleMessage(ctx context.Context, r *run, msg sampler.Message) {
	defer func() {
		if v := recover(); v != nil {
			s.p.Logger.Error("capture pump recovered from panic", "kind", msg.Kind.String(), "panic", fmt.Sprint(v))
		}
	}()

	switch msg.Kind {
	case sampler.MsgPointCaptured:
		p := msg.Point
		if err := s.p.Store.InsertGpsPoint(ctx, &p); err != nil {
			s.p.Logger.Error("storing gps point", "point", p.ID, "error", err)
			return
		}
		s.touch(ctx, msg)
		s.dataPending()

	case sampler.MsgHeartbeat:
		s.touch(ctx, msg)
		s.p.Logger.Debug("capture heartbeat", "shift", r.shiftID, "points", msg.PointCount, "stationary", msg.Stationary)

	case sampler.MsgGpsLost:
		gap := &model.GpsGap{
			ID:         s.p.IDs.New(),
			ShiftID:    r.shiftID,
			EmployeeID: r.employeeID,
			StartedAt:  msg.GapStartedAt,
			Reason:     model.GapSignalLoss,
			SyncStatus: model.SyncPending,
		}
		if err := s.p.Store.OpenGap(ctx, gap); err != nil {
			s.p.Logger.Error("opening gps gap", "shift", r.shiftID, "error", err)
		} else {
			r.gap = gap
		}
		s.setState(Running, GpsDegraded)
		s.p.Logger.Warn("gps degraded", "shift", r.shiftID, "since", msg.GapStartedAt)
		s.recordEvent(ctx, r.shiftID, r.employeeID, model.EventGpsLost, map[string]any{
			"gap_started_at": msg.GapStartedAt,
		})

	case sampler.MsgGpsRestored:
		gapID := ""
		if r.gap != nil {
			gapID = r.gap.ID
		} else if g, err := s.p.Store.FindOpenGap(ctx, r.shiftID); err == nil && g != nil {
			gapID = g.ID
		}
		if gapID != "" {
			if err := s.p.Store.CloseGap(ctx, gapID, msg.GapEndedAt); err != nil {
				s.p.Logger.Error("closing gps gap", "gap", gapID, "error", err)
			}
		}
		r.gap = nil
		s.setState(GpsDegraded, Running)
		s.p.Logger.Info("gps restored", "shift", r.shiftID, "gap", msg.GapEndedAt.Sub(msg.GapStartedAt))
		s.recordEvent(ctx, r.shiftID, r.employeeID, model.EventGpsRestored, map[string]any{
			"gap_id":         gapID,
			"gap_started_at": msg.GapStartedAt,
			"gap_ended_at":   msg.GapEndedAt,
		})

	case sampler.MsgStreamRecovered:
		s.recordEvent(ctx, r.shiftID, r.employeeID, model.EventStreamRecovery, map[string]any{
			"attempts": msg.Attempt,
		})

	case sampler.MsgStreamRecoveryFailing:
		s.p.Logger.Error("location stream recovery failing", "shift", r.shiftID, "attempt", msg.Attempt)
		s.recordEvent(ctx, r.shiftID, r.employeeID, model.EventStreamRecoveryFailing, map[string]any{
			"attempt": msg.Attempt,
		})

	case sampler.MsgStopped:
		s.touch(ctx, msg)
		s.recordEvent(ctx, r.shiftID, r.employeeID, model.EventTrackingStopped, map[string]any{
			"points": msg.PointCount,
		})

	case sampler.MsgStarted:
		s.p.Logger.Debug("sampler started", "shift", r.shiftID)
	}
}

func (s *Supervisor) touch(ctx context.Context, msg sampler.Message) {
	if err := s.p.Store.TouchCaptureContext(ctx, msg.At, msg.PointCount); err != nil {
		s.p.Logger.Warn("updating capture context", "error", err)
	}
}

func (s *Supervisor) dataPending() {
	if s.p.Trigger != nil {
		s.p.Trigger.DataPending()
	}
}

func (s *Supervisor) recordEvent(ctx context.Context, shiftID, employeeID string, kind model.EventKind, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.p.Logger.Warn("encoding event payload", "kind", string(kind), "error", err)
		data = nil
	}
	ev := &model.DiagnosticEvent{
		ID:         s.p.IDs.New(),
		ShiftID:    shiftID,
		EmployeeID: employeeID,
		Kind:       kind,
		Payload:    data,
		OccurredAt: s.p.Clock.Now(),
		SyncStatus: model.SyncPending,
	}
	if err := s.p.Store.InsertEvent(ctx, ev); err != nil {
		s.p.Logger.Error("storing diagnostic event", "kind", string(kind), "error", err)
		return
	}
	s.dataPending()
}
