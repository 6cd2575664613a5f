// workers/liveness_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"battle-service/services"
)

// LivenessWorker flips participants OFFLINE when their checkins go stale.
// Runs on the sweep interval, which is too tight for the cron scheduler.
type LivenessWorker struct {
	battles  *services.BattleService
	interval time.Duration
}

func NewLivenessWorker(battles *services.BattleService) *LivenessWorker {
	return &LivenessWorker{
		battles:  battles,
		interval: battles.Config.SweepInterval,
	}
}

func (w *LivenessWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Liveness Worker (checkins → connection_status)…")
	go w.run(ctx)
}

func (w *LivenessWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.battles.MarkStaleParticipantsOffline()
		case <-ctx.Done():
			log.Println("⏹️ Liveness Worker stopped")
			return
		}
	}
}
