package repository

import (
	"context"
	"errors"
	"wellness_backend/internal/model"
	"wellness_backend/internal/util"

	"gorm.io/gorm"
)

type AssessmentRepository struct {
	DB *gorm.DB
}

func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{DB: db}
}

func (r *AssessmentRepository) Create(ctx context.Context, s *model.AssessmentSession) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*model.AssessmentSession, error) {
	var s model.AssessmentSession
	err := r.DB.WithContext(ctx).First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Update 乐观锁更新：只有库中 version 与 s.Version 一致时才写入，成功后 version+1
func (r *AssessmentRepository) Update(ctx context.Context, s *model.AssessmentSession) error {
	res := r.DB.WithContext(ctx).Model(&model.AssessmentSession{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]interface{}{
			"status":             s.Status,
			"current_depth":      s.CurrentDepth,
			"questions_answered": s.QuestionsAnswered,
			"dimensions":         s.Dimensions,
			"history":            s.History,
			"pending_question":   s.PendingQuestion,
			"termination_reason": s.TerminationReason,
			"last_updated":       s.LastUpdated,
			"completed_at":       s.CompletedAt,
			"version":            s.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.DB.WithContext(ctx).Model(&model.AssessmentSession{}).Where("id = ?", s.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return util.ErrSessionNotFound
		}
		return util.ErrVersionConflict
	}
	s.Version++
	return nil
}

func (r *AssessmentRepository) ListByUser(ctx context.Context, userID uint, page, limit int) ([]model.AssessmentSession, int64, error) {
	var ss []model.AssessmentSession
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.AssessmentSession{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("started_at desc").Offset(offset).Limit(limit).Find(&ss).Error
	return ss, total, err
}
