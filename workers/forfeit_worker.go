// workers/forfeit_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"battle-service/services"
)

// ForfeitWorker auto-forfeits in-progress battles abandoned by a participant
// (offline or backgrounded past the grace period).
type ForfeitWorker struct {
	battles  *services.BattleService
	interval time.Duration
}

func NewForfeitWorker(battles *services.BattleService) *ForfeitWorker {
	return &ForfeitWorker{
		battles:  battles,
		interval: battles.Config.SweepInterval,
	}
}

func (w *ForfeitWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Forfeit Worker (abandoned battles → auto forfeit)…")
	go w.run(ctx)
}

func (w *ForfeitWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.battles.AutoForfeitAbandonedBattles()
		case <-ctx.Done():
			log.Println("⏹️ Forfeit Worker stopped")
			return
		}
	}
}
