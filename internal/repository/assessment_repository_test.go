package repository

import (
	"context"
	"testing"
	"time"
	"wellness_backend/internal/model"
	"wellness_backend/internal/util"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.AssessmentSession{}))
	return db
}

func newSession(userID uint, startedAt time.Time) *model.AssessmentSession {
	q := "What has been on your mind lately?"
	return &model.AssessmentSession{
		UserID:          userID,
		Status:          model.SessionInProgress,
		CurrentDepth:    1,
		Dimensions:      model.NewDimensions(),
		History:         model.TurnHistory{},
		PendingQuestion: &q,
		StartedAt:       startedAt,
		LastUpdated:     startedAt,
	}
}

func TestAssessmentRepositoryCreateAndFind(t *testing.T) {
	repo := NewAssessmentRepository(newTestDB(t))
	ctx := context.Background()

	s := newSession(1, time.Now())
	require.NoError(t, repo.Create(ctx, s))
	require.NotEmpty(t, s.ID)

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(1), got.UserID)
	assert.Equal(t, model.SessionInProgress, got.Status)
	assert.Equal(t, model.NewDimensions(), got.Dimensions)
	assert.Empty(t, got.History)
	require.NotNil(t, got.PendingQuestion)
	assert.Equal(t, *s.PendingQuestion, *got.PendingQuestion)
	assert.Equal(t, int64(0), got.Version)

	_, err = repo.FindByID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
}

func TestAssessmentRepositoryUpdateRoundTrip(t *testing.T) {
	repo := NewAssessmentRepository(newTestDB(t))
	ctx := context.Background()

	s := newSession(1, time.Now())
	require.NoError(t, repo.Create(ctx, s))

	now := time.Now().UTC().Truncate(time.Second)
	s.Dimensions[model.DimEmotionalRegulation] = 0.62
	s.History = append(s.History, model.AssessmentTurn{
		QuestionID:   "q_1",
		QuestionText: *s.PendingQuestion,
		UserResponse: "work has been heavy",
		Sentiment:    -0.3,
		Analysis:     map[string]float64{model.DimEmotionalRegulation: 0.9, "unknown": 0.2},
		Timestamp:    now,
	})
	s.QuestionsAnswered = 1
	s.Status = model.SessionCompleted
	s.CompletedAt = &now
	s.PendingQuestion = nil

	require.NoError(t, repo.Update(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 1, got.QuestionsAnswered)
	assert.InDelta(t, 0.62, got.Dimensions[model.DimEmotionalRegulation], 1e-9)
	require.Len(t, got.History, 1)
	assert.Equal(t, "work has been heavy", got.History[0].UserResponse)
	assert.Equal(t, 0.2, got.History[0].Analysis["unknown"])
	assert.Nil(t, got.PendingQuestion)
	assert.NotNil(t, got.CompletedAt)
}

func TestAssessmentRepositoryVersionConflict(t *testing.T) {
	repo := NewAssessmentRepository(newTestDB(t))
	ctx := context.Background()

	s := newSession(1, time.Now())
	require.NoError(t, repo.Create(ctx, s))

	first, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)

	first.QuestionsAnswered = 1
	require.NoError(t, repo.Update(ctx, first))

	second.QuestionsAnswered = 7
	assert.ErrorIs(t, repo.Update(ctx, second), util.ErrVersionConflict)

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.QuestionsAnswered)

	missing := newSession(1, time.Now())
	missing.ID = "ghost"
	assert.ErrorIs(t, repo.Update(ctx, missing), util.ErrSessionNotFound)
}

func TestAssessmentRepositoryListByUser(t *testing.T) {
	repo := NewAssessmentRepository(newTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		s := newSession(5, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, s))
		ids = append(ids, s.ID)
	}
	require.NoError(t, repo.Create(ctx, newSession(6, base)))

	page1, total, err := repo.ListByUser(ctx, 5, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[2], page1[0].ID)
	assert.Equal(t, ids[1], page1[1].ID)

	page2, _, err := repo.ListByUser(ctx, 5, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, ids[0], page2[0].ID)
}
