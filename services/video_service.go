package services

import (
	"fmt"
	"log"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Processing pipeline statuses, shared by per-participant videos and the
// battle-level export. QUEUED/STARTED/COMPLETED/ERROR drive timestamps and
// the export trigger; the rest are progress stages reported by the pipeline
// and stored verbatim.
const (
	VideoStatusQueued    = "QUEUED"
	VideoStatusStarted   = "STARTED"
	VideoStatusCompleted = "COMPLETED"
	VideoStatusError     = "ERROR"

	VideoStatusDownloading          = "DOWNLOADING"
	VideoStatusMerging              = "MERGING"
	VideoStatusAnalyzing            = "ANALYZING"
	VideoStatusEncoding             = "ENCODING"
	VideoStatusGeneratingThumbnails = "GENERATING_THUMBNAILS"
	VideoStatusUploading            = "UPLOADING"
)

var videoProgressStatuses = map[string]bool{
	VideoStatusDownloading:          true,
	VideoStatusMerging:              true,
	VideoStatusAnalyzing:            true,
	VideoStatusEncoding:             true,
	VideoStatusGeneratingThumbnails: true,
	VideoStatusUploading:            true,
}

// Transcoder hands recordings to the external processing pipeline. The
// pipeline reports back through VideoService's Update methods.
type Transcoder interface {
	QueueParticipantVideo(participant *models.BattleParticipant) error
	QueueBattleExport(battle *models.Battle) error
}

// NopTranscoder accepts everything and does nothing. Used when no pipeline is
// configured; videos then stay QUEUED until an operator intervenes.
type NopTranscoder struct{}

func (NopTranscoder) QueueParticipantVideo(*models.BattleParticipant) error { return nil }
func (NopTranscoder) QueueBattleExport(*models.Battle) error                { return nil }

// VideoService tracks recordings through the external transcoding pipeline:
// per-participant videos first, then the combined battle export once every
// participant video lands.
type VideoService struct {
	DB         *gorm.DB
	Publisher  realtime.Publisher
	Transcoder Transcoder
}

func NewVideoService(db *gorm.DB, publisher realtime.Publisher, transcoder Transcoder) *VideoService {
	return &VideoService{DB: db, Publisher: publisher, Transcoder: transcoder}
}

// BeginTranscoding queues every participant recording of a completed battle.
// Participants without a recording, or already in the pipeline, are skipped
// with a log line rather than an error so the call is safely re-runnable.
func (vs *VideoService) BeginTranscoding(battleID string) error {
	var battle models.Battle
	if err := vs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}
	if battle.CompletedAt == nil {
		return fmt.Errorf("battle %s has not completed", battleID)
	}

	now := time.Now()
	for i := range battle.Participants {
		p := &battle.Participants[i]
		if p.VideoRecordingID == nil {
			log.Printf("⚠️  [VIDEO] Participant %s has no video recording, skipping", p.ID)
			continue
		}
		if p.ProcessedVideoStatus != nil {
			log.Printf("⚠️  [VIDEO] Participant %s already %s, skipping", p.ID, *p.ProcessedVideoStatus)
			continue
		}

		if err := vs.DB.Model(&models.BattleParticipant{}).
			Where("id = ? AND processed_video_status IS NULL", p.ID).
			Updates(map[string]interface{}{
				"processed_video_status":    VideoStatusQueued,
				"processed_video_queued_at": now,
			}).Error; err != nil {
			return err
		}
		if err := vs.Transcoder.QueueParticipantVideo(p); err != nil {
			return err
		}
		log.Printf("✅ [VIDEO] Queued participant %s video for transcoding", p.ID)
	}
	return nil
}

// UpdateProcessedVideoStatus records pipeline progress for one participant's
// video. On COMPLETED the key and thumbnails are stored and, when this was
// the last outstanding video of the battle, the battle export is queued.
func (vs *VideoService) UpdateProcessedVideoStatus(participantID, status string, key *string, offsetMilliseconds *int64, thumbnails map[string]string) error {
	var participant models.BattleParticipant
	if err := vs.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{"processed_video_status": status}
	switch status {
	case VideoStatusQueued:
		updates["processed_video_queued_at"] = now
	case VideoStatusStarted:
		updates["processed_video_started_at"] = now
	case VideoStatusCompleted:
		updates["processed_video_completed_at"] = now
		if key != nil {
			updates["processed_video_key"] = *key
		}
		if offsetMilliseconds != nil {
			updates["processed_video_offset_milliseconds"] = *offsetMilliseconds
		}
	case VideoStatusError:
		// Keys stay as-is so a retry can resume.
	default:
		if !videoProgressStatuses[status] {
			return fmt.Errorf("unknown video status %q", status)
		}
	}

	err := vs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&participant).Updates(updates).Error; err != nil {
			return err
		}
		for size, thumbKey := range thumbnails {
			thumb := models.ParticipantThumbnail{
				ID:                  uuid.NewString(),
				BattleParticipantID: participant.ID,
				Size:                size,
				Key:                 thumbKey,
			}
			if err := tx.Create(&thumb).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	vs.Publisher.Trigger("battleparticipant-"+participant.ID, "battleParticipant.video", map[string]interface{}{
		"battle_participant_id": participant.ID,
		"status":                status,
	})

	if status == VideoStatusCompleted && participant.BattleID != nil {
		return vs.queueExportIfAllCompleted(*participant.BattleID)
	}
	return nil
}

func (vs *VideoService) queueExportIfAllCompleted(battleID string) error {
	var battle models.Battle
	if err := vs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}
	if battle.ExportedVideoStatus != nil {
		return nil
	}
	for _, p := range battle.Participants {
		if p.ProcessedVideoStatus == nil || *p.ProcessedVideoStatus != VideoStatusCompleted {
			return nil
		}
	}

	now := time.Now()
	result := vs.DB.Model(&models.Battle{}).
		Where("id = ? AND exported_video_status IS NULL", battle.ID).
		Updates(map[string]interface{}{
			"exported_video_status":    VideoStatusQueued,
			"exported_video_queued_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	log.Printf("✅ [VIDEO] All participant videos done for battle %s, queueing export", battle.ID)
	return vs.Transcoder.QueueBattleExport(&battle)
}

// UpdateExportStatus records pipeline progress for the battle-level export.
func (vs *VideoService) UpdateExportStatus(battleID, status string, key *string, thumbnails map[string]string) error {
	var battle models.Battle
	if err := vs.DB.First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{"exported_video_status": status}
	switch status {
	case VideoStatusQueued:
		updates["exported_video_queued_at"] = now
	case VideoStatusStarted:
		updates["exported_video_started_at"] = now
	case VideoStatusCompleted:
		updates["exported_video_completed_at"] = now
		if key != nil {
			updates["exported_video_key"] = *key
		}
	case VideoStatusError:
	default:
		if !videoProgressStatuses[status] {
			return fmt.Errorf("unknown video status %q", status)
		}
	}

	err := vs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&battle).Updates(updates).Error; err != nil {
			return err
		}
		for size, thumbKey := range thumbnails {
			thumb := models.BattleExportThumbnail{
				ID:       uuid.NewString(),
				BattleID: battle.ID,
				Size:     size,
				Key:      thumbKey,
			}
			if err := tx.Create(&thumb).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	vs.Publisher.Trigger("battle-"+battle.ID, "battle.video", map[string]interface{}{
		"battle_id": battle.ID,
		"status":    status,
	})
	return nil
}
