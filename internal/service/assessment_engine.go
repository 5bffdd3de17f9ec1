package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"wellness_backend/internal/config"
	"wellness_backend/internal/model"
	"wellness_backend/internal/repository"
	"wellness_backend/internal/util"
	"wellness_backend/pkg/logger"
	"wellness_backend/pkg/monitoring"
	"wellness_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SessionStore persists assessment sessions. Update must compare-and-swap on Version.
type SessionStore interface {
	Create(ctx context.Context, s *model.AssessmentSession) error
	FindByID(ctx context.Context, id string) (*model.AssessmentSession, error)
	Update(ctx context.Context, s *model.AssessmentSession) error
	ListByUser(ctx context.Context, userID uint, page, limit int) ([]model.AssessmentSession, int64, error)
}

// ResponseAnalysis is the structured result of scoring one free-text answer.
type ResponseAnalysis struct {
	Sentiment        float64            `json:"sentiment"`
	RiskFlag         bool               `json:"risk_flag"`
	RiskReason       *string            `json:"risk_reason"`
	DimensionUpdates map[string]float64 `json:"dimension_updates"`
}

type ResponseScorer interface {
	ScoreResponse(ctx context.Context, question, answer string) (*ResponseAnalysis, error)
}

// QuestionRequest carries the profile snapshot; Focus is a hint the generator may ignore.
type QuestionRequest struct {
	Dimensions    model.Dimensions
	HistoryLength int
	Depth         int
	Focus         string
	Context       string
}

type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, req QuestionRequest) (string, error)
}

type TurnOutcome string

const (
	OutcomeContinue  TurnOutcome = "continue"
	OutcomeCompleted TurnOutcome = "completed"
	OutcomeCrisis    TurnOutcome = "crisis"
)

type TurnResult struct {
	SessionID    string      `json:"session_id"`
	NextQuestion *string     `json:"next_question"`
	Progress     int         `json:"progress"`
	ShouldStop   bool        `json:"should_stop"`
	Feedback     string      `json:"feedback,omitempty"`
	Outcome      TurnOutcome `json:"outcome"`
}

type AssessmentEngine struct {
	store     SessionStore
	locker    repository.SessionLocker
	scorer    ResponseScorer
	generator QuestionGenerator

	mu              sync.RWMutex
	upstreamTimeout time.Duration
	lockWait        time.Duration

	now func() time.Time
}

func NewAssessmentEngine(store SessionStore, locker repository.SessionLocker, scorer ResponseScorer, generator QuestionGenerator, cfg config.AssessmentConfig) *AssessmentEngine {
	if locker == nil {
		locker = repository.NewLocalSessionLocker()
	}
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	wait := cfg.LockWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &AssessmentEngine{
		store:           store,
		locker:          locker,
		scorer:          scorer,
		generator:       generator,
		upstreamTimeout: timeout,
		lockWait:        wait,
		now:             time.Now,
	}
}

func (e *AssessmentEngine) SetUpstreamTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.upstreamTimeout = d
	e.mu.Unlock()
}

func (e *AssessmentEngine) UpstreamTimeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.upstreamTimeout
}

func (e *AssessmentEngine) StartSession(ctx context.Context, userID uint, openingContext string) (*model.AssessmentSession, string, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AssessmentEngine.StartSession")
	defer span.End()

	now := e.now()
	session := &model.AssessmentSession{
		UserID:       userID,
		Status:       model.SessionInProgress,
		CurrentDepth: 1,
		Dimensions:   model.NewDimensions(),
		History:      model.TurnHistory{},
		Context:      strings.TrimSpace(openingContext),
		StartedAt:    now,
		LastUpdated:  now,
	}

	question, err := e.generateQuestion(ctx, session)
	if err != nil {
		recordSpanError(span, err)
		return nil, "", err
	}
	session.PendingQuestion = &question

	if err := e.store.Create(ctx, session); err != nil {
		recordSpanError(span, err)
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	monitoring.SessionsStarted.Inc()
	span.SetAttributes(attribute.String("session.id", session.ID))
	logger.Log.Info("assessment session started",
		zap.String("session_id", session.ID),
		zap.Uint("user_id", userID))

	return session, question, nil
}

func (e *AssessmentEngine) SubmitResponse(ctx context.Context, userID uint, sessionID, answer string) (*TurnResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AssessmentEngine.SubmitResponse",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	result, err := e.submitResponse(ctx, userID, sessionID, answer)
	if err != nil {
		recordSpanError(span, err)
		outcome := "rejected"
		if errors.Is(err, util.ErrUpstream) {
			outcome = "upstream_error"
		}
		monitoring.TurnOutcomes.WithLabelValues(outcome).Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("turn.outcome", string(result.Outcome)),
		attribute.Int("turn.progress", result.Progress),
	)
	monitoring.TurnOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func (e *AssessmentEngine) submitResponse(ctx context.Context, userID uint, sessionID, answer string) (*TurnResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, util.ErrEmptyResponse
	}

	release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := e.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkAcceptsTurns(stored); err != nil {
		return nil, err
	}

	// 所有修改都在副本上进行，失败路径不会写库也不会污染已加载的状态
	session := stored.Clone()

	question := InitialQuestionPlaceholder
	if session.PendingQuestion != nil && strings.TrimSpace(*session.PendingQuestion) != "" {
		question = *session.PendingQuestion
	}

	analysis, err := e.scoreResponse(ctx, question, answer)
	if err != nil {
		return nil, err
	}

	now := e.now()

	if analysis.RiskFlag {
		return e.terminateForSafety(ctx, session, analysis, now), nil
	}

	ApplyDimensionUpdates(session.Dimensions, analysis.DimensionUpdates)

	received := make(map[string]float64, len(analysis.DimensionUpdates))
	for k, v := range analysis.DimensionUpdates {
		received[k] = v
	}
	session.History = append(session.History, model.AssessmentTurn{
		QuestionID:   fmt.Sprintf("q_%d", len(session.History)+1),
		QuestionText: question,
		UserResponse: answer,
		Sentiment:    analysis.Sentiment,
		Analysis:     received,
		Timestamp:    now,
	})
	session.QuestionsAnswered++
	session.LastUpdated = now

	if session.QuestionsAnswered >= MaxQuestions {
		session.Status = model.SessionCompleted
		session.CompletedAt = &now
		session.PendingQuestion = nil

		if err := e.persist(ctx, session); err != nil {
			return nil, err
		}

		logger.Log.Info("assessment session completed",
			zap.String("session_id", session.ID),
			zap.String("strength", StrengthDimension(session.Dimensions)),
			zap.String("focus", FocusDimension(session.Dimensions)))

		return &TurnResult{
			SessionID:  session.ID,
			Progress:   session.QuestionsAnswered,
			ShouldStop: true,
			Feedback:   completionFeedback(session.Dimensions),
			Outcome:    OutcomeCompleted,
		}, nil
	}

	next, err := e.generateQuestion(ctx, session)
	if err != nil {
		return nil, err
	}
	session.PendingQuestion = &next

	if err := e.persist(ctx, session); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:    session.ID,
		NextQuestion: &next,
		Progress:     session.QuestionsAnswered,
		ShouldStop:   false,
		Outcome:      OutcomeContinue,
	}, nil
}

// terminateForSafety skips the numeric update entirely and marks the session terminated.
func (e *AssessmentEngine) terminateForSafety(ctx context.Context, session *model.AssessmentSession, analysis *ResponseAnalysis, now time.Time) *TurnResult {
	reason := "risk flag raised"
	if analysis.RiskReason != nil && strings.TrimSpace(*analysis.RiskReason) != "" {
		reason = strings.TrimSpace(*analysis.RiskReason)
	}
	session.Status = model.SessionTerminated
	session.TerminationReason = &reason
	session.PendingQuestion = nil
	session.LastUpdated = now

	if err := e.persist(ctx, session); err != nil {
		// 安全提示优先于持久化结果
		logger.Log.Error("failed to persist safety termination",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	logger.Log.Warn("assessment session stopped by risk flag",
		zap.String("session_id", session.ID),
		zap.Uint("user_id", session.UserID))

	return &TurnResult{
		SessionID:  session.ID,
		Progress:   session.QuestionsAnswered,
		ShouldStop: true,
		Feedback:   crisisFeedback,
		Outcome:    OutcomeCrisis,
	}
}

func (e *AssessmentEngine) GetSession(ctx context.Context, userID uint, sessionID string) (*model.AssessmentSession, error) {
	return e.loadOwned(ctx, userID, sessionID)
}

func (e *AssessmentEngine) ListSessions(ctx context.Context, userID uint, page, limit int) ([]model.AssessmentSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return e.store.ListByUser(ctx, userID, page, limit)
}

func (e *AssessmentEngine) PauseSession(ctx context.Context, userID uint, sessionID string) (*model.AssessmentSession, error) {
	return e.transition(ctx, userID, sessionID, model.SessionInProgress, model.SessionPaused)
}

// ResumeSession returns a paused session to in_progress. The pending question is kept so the
// user answers exactly the question they paused on.
func (e *AssessmentEngine) ResumeSession(ctx context.Context, userID uint, sessionID string) (*model.AssessmentSession, error) {
	return e.transition(ctx, userID, sessionID, model.SessionPaused, model.SessionInProgress)
}

func (e *AssessmentEngine) transition(ctx context.Context, userID uint, sessionID string, from, to model.SessionStatus) (*model.AssessmentSession, error) {
	release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := e.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if stored.Status != from {
		switch stored.Status {
		case model.SessionCompleted:
			return nil, util.ErrSessionCompleted
		case model.SessionTerminated:
			return nil, util.ErrSessionTerminated
		}
		return nil, fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, stored.Status, to)
	}

	session := stored.Clone()
	session.Status = to
	session.LastUpdated = e.now()
	if err := e.persist(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (e *AssessmentEngine) acquire(ctx context.Context, sessionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	return e.locker.Acquire(lockCtx, sessionID)
}

func (e *AssessmentEngine) loadOwned(ctx context.Context, userID uint, sessionID string) (*model.AssessmentSession, error) {
	session, err := e.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, util.ErrPermissionDenied
	}
	return session, nil
}

func (e *AssessmentEngine) persist(ctx context.Context, session *model.AssessmentSession) error {
	if err := e.store.Update(ctx, session); err != nil {
		if errors.Is(err, util.ErrVersionConflict) {
			return util.ErrSessionBusy
		}
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func checkAcceptsTurns(s *model.AssessmentSession) error {
	switch s.Status {
	case model.SessionCompleted:
		return util.ErrSessionCompleted
	case model.SessionTerminated:
		return util.ErrSessionTerminated
	case model.SessionPaused:
		return util.ErrSessionPaused
	}
	return nil
}

// upstreamContext detaches from the caller's cancellation: a turn that reached the upstream
// runs to completion or timeout.
func (e *AssessmentEngine) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.UpstreamTimeout())
}

func (e *AssessmentEngine) scoreResponse(ctx context.Context, question, answer string) (*ResponseAnalysis, error) {
	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	start := time.Now()
	analysis, err := e.scorer.ScoreResponse(uctx, question, answer)
	if err == nil {
		err = validateAnalysis(analysis)
	}
	monitoring.ObserveUpstream("scoring", start, err)
	if err != nil {
		logger.Log.Warn("scoring call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: scoring: %v", util.ErrUpstream, err)
	}
	return analysis, nil
}

func (e *AssessmentEngine) generateQuestion(ctx context.Context, session *model.AssessmentSession) (string, error) {
	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	req := QuestionRequest{
		Dimensions:    session.Dimensions.Clone(),
		HistoryLength: len(session.History),
		Depth:         session.CurrentDepth,
		Focus:         FocusDimension(session.Dimensions),
		Context:       session.Context,
	}

	start := time.Now()
	question, err := e.generator.GenerateQuestion(uctx, req)
	question = strings.TrimSpace(question)
	if err == nil && question == "" {
		err = fmt.Errorf("%w: empty question", util.ErrMalformedUpstream)
	}
	monitoring.ObserveUpstream("question", start, err)
	if err != nil {
		logger.Log.Warn("question generation failed", zap.Error(err))
		return "", fmt.Errorf("%w: question generation: %v", util.ErrUpstream, err)
	}
	return question, nil
}

func validateAnalysis(a *ResponseAnalysis) error {
	if a == nil {
		return fmt.Errorf("%w: nil analysis", util.ErrMalformedUpstream)
	}
	// crisis takes priority; the numeric fields are not used on that path
	if a.RiskFlag {
		return nil
	}
	if math.IsNaN(a.Sentiment) || a.Sentiment < -1 || a.Sentiment > 1 {
		return fmt.Errorf("%w: sentiment %v out of range", util.ErrMalformedUpstream, a.Sentiment)
	}
	if a.DimensionUpdates == nil {
		return fmt.Errorf("%w: missing dimension_updates", util.ErrMalformedUpstream)
	}
	for name, v := range a.DimensionUpdates {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite impact for %s", util.ErrMalformedUpstream, name)
		}
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
