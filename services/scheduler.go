// services/scheduler.go
package services

import (
	"log"
	"time"

	"battle-service/models"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs the periodic domain jobs: matching sweeps and voting-window
// closes. The per-second liveness and forfeit loops live in workers/ since
// they need tighter intervals than cron-style jobs warrant.
type Scheduler struct {
	Matching *MatchingService
	Votes    *VoteService
	Scores   *ScoringService
	Config   Config

	scheduler gocron.Scheduler
}

func NewScheduler(matching *MatchingService, votes *VoteService, scores *ScoringService, config Config) *Scheduler {
	return &Scheduler{Matching: matching, Votes: votes, Scores: scores, Config: config}
}

func (s *Scheduler) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.scheduler = sched
	sched.Start()

	// Matching sweep: retry pairings and time out stale pool entries.
	if _, err := sched.NewJob(
		gocron.DurationJob(s.Config.SweepInterval),
		gocron.NewTask(s.Matching.SweepAll),
	); err != nil {
		return err
	}

	// Voting close: battles whose window ended since the last pass get a
	// final winner computation and score replay.
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(s.closeExpiredVotingWindows),
	); err != nil {
		return err
	}

	log.Println("✅ [SCHEDULER] Periodic jobs started")
	return nil
}

func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		_ = s.scheduler.Shutdown()
	}
}

func (s *Scheduler) closeExpiredVotingWindows() {
	now := time.Now()
	since := now.Add(-2 * time.Minute)

	var battles []models.Battle
	err := s.Matching.DB.
		Where("completed_at IS NOT NULL").
		Where("voting_ends_at > ? AND voting_ends_at <= ?", since, now).
		Find(&battles).Error
	if err != nil {
		log.Printf("❌ [SCHEDULER] Failed to load battles with expired voting: %v", err)
		return
	}

	for _, battle := range battles {
		changed, err := s.Votes.UpdateComputedWinningParticipants(battle.ID)
		if err != nil {
			log.Printf("❌ [SCHEDULER] Failed to finalize winners for battle %s: %v", battle.ID, err)
			continue
		}
		if changed {
			if err := s.Scores.RecomputeForBattle(battle.ID); err != nil {
				log.Printf("❌ [SCHEDULER] Failed to recompute scores for battle %s: %v", battle.ID, err)
			}
		}
		log.Printf("✅ [SCHEDULER] Voting closed for battle %s (winners changed=%t)", battle.ID, changed)
	}
}
