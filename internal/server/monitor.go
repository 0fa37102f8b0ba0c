package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// monitor blocks for the whole process lifetime, then classifies the exit
// and removes the instance. There is exactly one monitor per instance.
func (s *Supervisor) monitor(inst *Instance) {
	defer s.monitors.Done()

	outcome := inst.handle.Wait()
	name := inst.name

	// Hold the key lock so a new start cannot interleave with reconciliation
	unlock := s.registry.Lock(name)
	intentional := inst.markExited(outcome)

	// Catch joins and leaves written right before exit
	inst.scanNewOutput()

	if s.follower != nil {
		s.follower.Unfollow(name)
	}
	s.registry.Remove(name, inst)
	unlock()

	exitedAt := outcome.ExitedAt
	if exitedAt.IsZero() {
		exitedAt = time.Now()
	}

	// Lifecycle hooks must not be cancelled by the request that stopped the server
	ctx := context.Background()

	if intentional {
		log.Printf("[Monitor] Server %s exited after stop request (%s)", name, outcome.State)
		// A signal exit after a stop request means the graceful window ran out
		lastExit := ExitStopped
		if outcome.Code < 0 {
			lastExit = ExitForced
		}
		if err := s.status.RecordExited(name, lastExit, outcome.Code, "", exitedAt); err != nil {
			log.Printf("[Monitor] Warning: %v", err)
		}
		if s.metrics != nil {
			s.metrics.InstanceExited(name, false)
			s.metrics.PlayersOnline(name, 0)
		}
		s.broadcast(name, "server_stopped", map[string]interface{}{"exit_code": outcome.Code})
		s.notify(ctx, name, webhook.TriggerServerStopped, "")
		s.notify(ctx, name, webhook.TriggerServerTerminated, "")
	} else {
		detail := fmt.Sprintf("exit code %d", outcome.Code)
		if outcome.Err != nil {
			detail = outcome.Err.Error()
		}
		log.Printf("[Monitor] Server %s crashed (%s)", name, detail)
		if err := s.status.RecordExited(name, ExitCrashed, outcome.Code, detail, exitedAt); err != nil {
			log.Printf("[Monitor] Warning: %v", err)
		}
		if s.metrics != nil {
			s.metrics.InstanceExited(name, true)
			s.metrics.PlayersOnline(name, 0)
		}
		_ = s.activity.LogServerCrash(name, outcome.Code, detail)
		s.broadcast(name, "server_crashed", map[string]interface{}{"exit_code": outcome.Code})
		s.notify(ctx, name, webhook.TriggerServerCrashed, detail)
	}

	close(inst.reconciled)
}
