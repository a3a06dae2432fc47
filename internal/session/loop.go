package session

import (
	"context"
	"time"

	simlog "netball/server/logging/simulation"
)

// LoopHooks observe the running loop.
type LoopHooks struct {
	AfterTick func(LoopResult)
	OnError   func(error)
}

// LoopResult describes one ticker wake-up.
type LoopResult struct {
	Update   UpdateResult
	Now      time.Time
	Elapsed  time.Duration
	Duration time.Duration
	Budget   time.Duration
}

// Run drives Update from a ticker at the configured tick rate until ctx ends,
// then closes the session.
func (s *Session) Run(ctx context.Context, source InputSource, hooks LoopHooks) {
	defer s.Close()

	budget := s.Step()
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	last := s.clock.Now()
	var streak uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			elapsed := now.Sub(last)
			if elapsed <= 0 {
				elapsed = budget
			}
			last = now

			start := s.clock.Now()
			update, err := s.Update(elapsed, source)
			duration := s.clock.Now().Sub(start)
			if err != nil && hooks.OnError != nil {
				hooks.OnError(err)
			}

			if duration > budget {
				streak++
				simlog.TickBudgetOverrun(ctx, s.pub, int64(s.engine.CurrentFrame()), simlog.TickBudgetOverrunPayload{
					DurationMillis: duration.Milliseconds(),
					BudgetMillis:   budget.Milliseconds(),
					Ratio:          float64(duration) / float64(budget),
					Streak:         streak,
					Steps:          update.Steps,
					Clamped:        update.Clamped,
				}, nil)
			} else {
				streak = 0
			}

			if hooks.AfterTick != nil {
				hooks.AfterTick(LoopResult{
					Update:   update,
					Now:      now,
					Elapsed:  elapsed,
					Duration: duration,
					Budget:   budget,
				})
			}
		}
	}
}
