package controllers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"abandonment-service/apperrors"
	"abandonment-service/logger"
	"abandonment-service/models"
	awspkg "abandonment-service/pkg/aws"
	"abandonment-service/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Tracker interface {
	RecordOpen(ctx context.Context, logID int64) (bool, error)
	RecordClick(ctx context.Context, logID int64, userID uuid.UUID) (bool, error)
	RecordConversion(ctx context.Context, userID uuid.UUID) (*models.AbandonmentLog, error)
	Logs(ctx context.Context, filter models.AbandonmentFilter) ([]models.AbandonmentLog, int64, error)
}

type Catalog interface {
	Invalidate()
	Load(ctx context.Context) error
	Products() []models.Product
}

type CountRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// transparentGIF is a 1x1 transparent GIF89a.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingController struct {
	tracker  Tracker
	catalog  Catalog
	activity repository.ActivityStore
	metrics  CountRecorder
	log      *zap.Logger
}

// NewTrackingController wires the handlers. activity and metrics may be nil.
func NewTrackingController(tracker Tracker, catalog Catalog, activity repository.ActivityStore, metrics CountRecorder, log *zap.Logger) *TrackingController {
	if log == nil {
		log = zap.NewNop()
	}
	return &TrackingController{
		tracker:  tracker,
		catalog:  catalog,
		activity: activity,
		metrics:  metrics,
		log:      log,
	}
}

const (
	maxPageSize     = 100
	defaultPage     = 1
	defaultPageSize = 20
)

func parsePaginationParams(ctx *gin.Context) (int, int) {
	page := defaultPage
	pageSize := defaultPageSize

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("page_size", "20")); err == nil && l > 0 {
		pageSize = l
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
	}
	return page, pageSize
}

// TrackOpen serves the tracking pixel. The image is returned whatever
// happens to the update so mail clients never show a broken image.
func (tc *TrackingController) TrackOpen(ctx *gin.Context) {
	if logID, err := strconv.ParseInt(ctx.Param("log_id"), 10, 64); err == nil && logID > 0 {
		opened, err := tc.tracker.RecordOpen(ctx.Request.Context(), logID)
		switch {
		case err != nil:
			logger.Warn(ctx, "failed to record email open", zap.Int64("log_id", logID), zap.Error(err))
		case opened:
			logger.Info(ctx, "email opened", zap.Int64("log_id", logID))
			tc.count(ctx.Request.Context(), awspkg.MetricEmailsOpened)
		}
	}

	ctx.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Header("Pragma", "no-cache")
	ctx.Header("Expires", "0")
	ctx.Data(http.StatusOK, "image/gif", transparentGIF)
}

type clickRequest struct {
	LogID  int64  `json:"log_id" binding:"required,gt=0"`
	UserID string `json:"user_id" binding:"required"`
}

func (tc *TrackingController) TrackClick(ctx *gin.Context) {
	var req clickRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}

	updated, err := tc.tracker.RecordClick(ctx.Request.Context(), req.LogID, userID)
	if err != nil {
		logger.Error(ctx, "failed to record click", err, zap.Int64("log_id", req.LogID))
		_ = ctx.Error(apperrors.ErrTrackingStore.Wrap(err))
		return
	}
	if !updated {
		_ = ctx.Error(apperrors.ErrLogNotFound)
		return
	}

	tc.touch(ctx.Request.Context(), userID)
	tc.count(ctx.Request.Context(), awspkg.MetricLinksClicked)
	ctx.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type purchaseRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (tc *TrackingController) TrackPurchase(ctx *gin.Context) {
	var req purchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}

	entry, err := tc.tracker.RecordConversion(ctx.Request.Context(), userID)
	if err != nil {
		logger.Error(ctx, "failed to record purchase", err, zap.String("user_id", userID.String()))
		_ = ctx.Error(apperrors.ErrTrackingStore.Wrap(err))
		return
	}
	if entry == nil {
		ctx.JSON(http.StatusOK, gin.H{"status": "no_open_abandonment"})
		return
	}

	tc.count(ctx.Request.Context(), awspkg.MetricConversions)
	ctx.JSON(http.StatusOK, gin.H{"status": "converted", "log_id": entry.ID})
}

type activityRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TouchActivity records that a user is active right now.
func (tc *TrackingController) TouchActivity(ctx *gin.Context) {
	var req activityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		_ = ctx.Error(apperrors.ErrInvalidInput.Wrap(err))
		return
	}
	if tc.activity == nil {
		_ = ctx.Error(apperrors.ErrActivityDisabled)
		return
	}
	if err := tc.activity.Touch(ctx.Request.Context(), userID, time.Now()); err != nil {
		logger.Warn(ctx, "failed to record activity", zap.Error(err))
		_ = ctx.Error(apperrors.ErrServiceUnavailable.Wrap(err))
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (tc *TrackingController) ReloadCatalog(ctx *gin.Context) {
	tc.catalog.Invalidate()
	if err := tc.catalog.Load(ctx.Request.Context()); err != nil {
		logger.Error(ctx, "catalog reload failed", err)
		_ = ctx.Error(apperrors.ErrCatalogReload.Wrap(err))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "reloaded", "products": len(tc.catalog.Products())})
}

func (tc *TrackingController) GetAbandonmentLogs(ctx *gin.Context) {
	var userID uuid.UUID
	if s := ctx.Query("user_id"); s != "" {
		parsed, err := uuid.Parse(s)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userID = parsed
	}

	page, pageSize := parsePaginationParams(ctx)
	sentOnly, _ := strconv.ParseBool(ctx.Query("sent"))

	logs, total, err := tc.tracker.Logs(ctx.Request.Context(), models.AbandonmentFilter{
		UserID:   userID,
		SentOnly: sentOnly,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		logger.Error(ctx, "failed to get abandonment logs", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	ctx.JSON(http.StatusOK, gin.H{
		"data":        logs,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

func (tc *TrackingController) touch(ctx context.Context, userID uuid.UUID) {
	if tc.activity == nil {
		return
	}
	if err := tc.activity.Touch(ctx, userID, time.Now()); err != nil {
		tc.log.Debug("failed to record activity", zap.Error(err))
	}
}

func (tc *TrackingController) count(ctx context.Context, metric string) {
	if tc.metrics == nil {
		return
	}
	_ = tc.metrics.RecordCount(ctx, metric, map[string]string{"Service": "abandonment-service"})
}
