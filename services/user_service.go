package services

import (
	"errors"
	"strings"

	"battle-service/models"
	"battle-service/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService maintains the local mirror of user profiles plus the follow
// graph the FOLLOWING feed reads.
type UserService struct {
	DB        *gorm.DB
	Config    Config
	Publisher realtime.Publisher
}

func NewUserService(db *gorm.DB, config Config, publisher realtime.Publisher) *UserService {
	return &UserService{DB: db, Config: config, Publisher: publisher}
}

// UpsertUser mirrors a profile-service user locally. New users start at the
// initial score; existing users keep their computed score and counters.
func (us *UserService) UpsertUser(id, handle, name string, profileImageURL, phoneNumber *string) (*models.User, error) {
	user := models.User{
		ID:              id,
		Handle:          handle,
		Name:            name,
		ProfileImageURL: profileImageURL,
		PhoneNumber:     phoneNumber,
		ComputedScore:   us.Config.InitialScore,
	}

	err := us.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "name", "profile_image_url", "phone_number"}),
	}).Create(&user).Error
	if err != nil {
		return nil, err
	}

	var stored models.User
	if err := us.DB.First(&stored, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetUser loads a user by id.
func (us *UserService) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := us.DB.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers matches handles and names case-insensitively.
func (us *UserService) SearchUsers(query string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	db := us.DB.Model(&models.User{}).Limit(limit).Order("computed_score DESC")
	if query != "" {
		term := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(handle) LIKE ? OR LOWER(name) LIKE ?", term, term)
	}

	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Follow adds a follow edge and bumps both counters. Idempotent: following
// someone twice is a no-op.
func (us *UserService) Follow(userID, followsUserID string) error {
	if userID == followsUserID {
		return errors.New("cannot follow yourself")
	}

	return us.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.UserFollow{}).
			Where("user_id = ? AND follows_user_id = ?", userID, followsUserID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		follow := models.UserFollow{
			ID:            uuid.NewString(),
			UserID:        userID,
			FollowsUserID: followsUserID,
		}
		if err := tx.Create(&follow).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("computed_following_count", gorm.Expr("computed_following_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", followsUserID).
			UpdateColumn("computed_followers_count", gorm.Expr("computed_followers_count + 1")).Error
	})
}

// Unfollow removes the edge and decrements both counters.
func (us *UserService) Unfollow(userID, followsUserID string) error {
	return us.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().
			Where("user_id = ? AND follows_user_id = ?", userID, followsUserID).
			Delete(&models.UserFollow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("computed_following_count", gorm.Expr("computed_following_count - 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", followsUserID).
			UpdateColumn("computed_followers_count", gorm.Expr("computed_followers_count - 1")).Error
	})
}
