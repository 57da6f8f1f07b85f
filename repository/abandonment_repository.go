package repository

import (
	"context"
	"errors"
	"time"

	"abandonment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AbandonmentRepository interface {
	Create(ctx context.Context, entry *models.AbandonmentLog) error
	// FindLatest returns the newest entry for (user, fingerprint) created after since, or nil.
	FindLatest(ctx context.Context, userID uuid.UUID, fingerprint string, since time.Time) (*models.AbandonmentLog, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkOpened reports whether the entry moved to opened. Repeated opens are no-ops.
	MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, id int64, userID uuid.UUID, at time.Time) (bool, error)
	// FindLatestUnconverted returns the newest sent, unconverted entry of the user created after since, or nil.
	FindLatestUnconverted(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AbandonmentLog, error)
	MarkConverted(ctx context.Context, id int64, at time.Time) (bool, error)
	List(ctx context.Context, filter models.AbandonmentFilter) ([]models.AbandonmentLog, int64, error)
}

type abandonmentRepository struct {
	db *gorm.DB
}

func NewAbandonmentRepository(db *gorm.DB) AbandonmentRepository {
	return &abandonmentRepository{db: db}
}

func (r *abandonmentRepository) Create(ctx context.Context, entry *models.AbandonmentLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *abandonmentRepository) FindLatest(ctx context.Context, userID uuid.UUID, fingerprint string, since time.Time) (*models.AbandonmentLog, error) {
	var entry models.AbandonmentLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND cart_fingerprint = ? AND created_at > ?", userID, fingerprint, since).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *abandonmentRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.AbandonmentLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"email_sent": true, "sent_at": at}).Error
}

func (r *abandonmentRepository) MarkOpened(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AbandonmentLog{}).
		Where("id = ? AND email_opened = ?", id, false).
		Updates(map[string]interface{}{
			"email_opened": true,
			"opened_at":    gorm.Expr("COALESCE(opened_at, ?)", at),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *abandonmentRepository) MarkClicked(ctx context.Context, id int64, userID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AbandonmentLog{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"link_clicked": true,
			"clicked_at":   at,
			"click_count":  gorm.Expr("click_count + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *abandonmentRepository) FindLatestUnconverted(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AbandonmentLog, error) {
	var entry models.AbandonmentLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND email_sent = ? AND purchase_completed = ? AND created_at > ?", userID, true, false, since).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *abandonmentRepository) MarkConverted(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AbandonmentLog{}).
		Where("id = ? AND purchase_completed = ?", id, false).
		Updates(map[string]interface{}{"purchase_completed": true, "completed_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *abandonmentRepository) List(ctx context.Context, filter models.AbandonmentFilter) ([]models.AbandonmentLog, int64, error) {
	var entries []models.AbandonmentLog
	var total int64

	if filter.PageSize < 1 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	query := r.db.WithContext(ctx).Model(&models.AbandonmentLog{})

	if filter.UserID != uuid.Nil {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.SentOnly {
		query = query.Where("email_sent = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("created_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&entries).Error

	return entries, total, err
}
