package controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"wellness_backend/internal/model"
	"wellness_backend/internal/service"
	"wellness_backend/internal/util"
	"wellness_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AssessmentController struct {
	Engine *service.AssessmentEngine
	Speech *service.SpeechService
}

func NewAssessmentController(engine *service.AssessmentEngine, speech *service.SpeechService) *AssessmentController {
	return &AssessmentController{Engine: engine, Speech: speech}
}

type StartAssessmentRequest struct {
	Context string `json:"context" binding:"max=2000"`
}

type SubmitResponseRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	ResponseText string `json:"response_text" binding:"required,max=5000"`
}

// TurnResponse 每一轮返回给前端的结果
type TurnResponse struct {
	SessionID    string  `json:"session_id"`
	NextQuestion *string `json:"next_question"`
	Progress     int     `json:"progress"`
	ShouldStop   bool    `json:"should_stop"`
	Feedback     string  `json:"feedback,omitempty"`
	Outcome      string  `json:"outcome,omitempty"`
	AudioURL     *string `json:"audio_url,omitempty"`
	Transcript   string  `json:"transcript,omitempty"`
}

type SessionSummary struct {
	ID                string              `json:"id"`
	Status            model.SessionStatus `json:"status"`
	QuestionsAnswered int                 `json:"questionsAnswered"`
	StartedAt         time.Time           `json:"startedAt"`
	LastUpdated       time.Time           `json:"lastUpdated"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty"`
}

// @Summary 开始评估
// @Description 创建新的评估会话并返回第一道问题
// @Tags 心理评估
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body StartAssessmentRequest false "可选的开场背景"
// @Success 200 {object} util.Response{data=TurnResponse}
// @Failure 503 {object} util.Response
// @Router /assessment/start [post]
func (c *AssessmentController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	// 请求体可选，空 body（含 chunked）按无背景处理
	var req StartAssessmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		util.BadRequest(ctx, err.Error())
		return
	}

	session, question, err := c.Engine.StartSession(ctx.Request.Context(), user.UserID, req.Context)
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	util.Success(ctx, TurnResponse{
		SessionID:    session.ID,
		NextQuestion: &question,
		Progress:     0,
		ShouldStop:   false,
		Outcome:      string(service.OutcomeContinue),
		AudioURL:     c.Speech.SpeakURL(ctx.Request.Context(), session.ID, question),
	})
}

// @Summary 提交回答
// @Description 提交当前问题的文字回答，返回下一题或结束反馈
// @Tags 心理评估
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body SubmitResponseRequest true "会话ID与回答"
// @Success 200 {object} util.Response{data=TurnResponse}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /assessment/response [post]
func (c *AssessmentController) Respond(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SubmitResponseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Engine.SubmitResponse(ctx.Request.Context(), user.UserID, req.SessionID, req.ResponseText)
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	util.Success(ctx, c.turnResponse(ctx, result))
}

// @Summary 语音回答
// @Description 上传录音，转写后按文字回答处理，可选返回合成语音
// @Tags 心理评估
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param session_id formData string true "会话ID"
// @Param file formData file true "录音文件"
// @Success 200 {object} util.Response{data=TurnResponse}
// @Failure 400 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /assessment/talk [post]
func (c *AssessmentController) Talk(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	if !c.Speech.Enabled() {
		util.ServiceUnavailable(ctx, util.ErrSpeechUnavailable.Error())
		return
	}

	sessionID := strings.TrimSpace(ctx.PostForm("session_id"))
	if sessionID == "" {
		util.BadRequest(ctx, "session_id is required")
		return
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "audio file is required")
		return
	}
	if !util.IsAllowedAudio(file.Filename) {
		util.BadRequest(ctx, "unsupported audio format")
		return
	}

	tmp, err := os.CreateTemp("", "talk-*"+strings.ToLower(filepath.Ext(file.Filename)))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := ctx.SaveUploadedFile(file, tmpPath); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	if err := c.Speech.CheckClip(tmpPath); err != nil {
		c.respondError(ctx, err)
		return
	}

	transcript, err := c.Speech.Transcribe(ctx.Request.Context(), tmpPath)
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	result, err := c.Engine.SubmitResponse(ctx.Request.Context(), user.UserID, sessionID, transcript)
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	resp := c.turnResponse(ctx, result)
	resp.Transcript = transcript
	util.Success(ctx, resp)
}

// @Summary 评估历史
// @Tags 心理评估
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /assessment/history [get]
func (c *AssessmentController) History(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	sessions, total, err := c.Engine.ListSessions(ctx.Request.Context(), user.UserID, page, limit)
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	list := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, SessionSummary{
			ID:                s.ID,
			Status:            s.Status,
			QuestionsAnswered: s.QuestionsAnswered,
			StartedAt:         s.StartedAt,
			LastUpdated:       s.LastUpdated,
			CompletedAt:       s.CompletedAt,
		})
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	util.Success(ctx, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// @Summary 会话详情
// @Tags 心理评估
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.AssessmentSession}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /assessment/sessions/{id} [get]
func (c *AssessmentController) GetSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.Engine.GetSession(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// @Summary 暂停评估
// @Tags 心理评估
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.AssessmentSession}
// @Failure 409 {object} util.Response
// @Router /assessment/sessions/{id}/pause [post]
func (c *AssessmentController) Pause(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.Engine.PauseSession(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

// @Summary 继续评估
// @Description 恢复暂停的会话，返回暂停前未回答的问题
// @Tags 心理评估
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=TurnResponse}
// @Failure 409 {object} util.Response
// @Router /assessment/sessions/{id}/resume [post]
func (c *AssessmentController) Resume(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.Engine.ResumeSession(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	util.Success(ctx, TurnResponse{
		SessionID:    session.ID,
		NextQuestion: session.PendingQuestion,
		Progress:     session.QuestionsAnswered,
		Outcome:      string(service.OutcomeContinue),
	})
}

func (c *AssessmentController) turnResponse(ctx *gin.Context, r *service.TurnResult) TurnResponse {
	resp := TurnResponse{
		SessionID:    r.SessionID,
		NextQuestion: r.NextQuestion,
		Progress:     r.Progress,
		ShouldStop:   r.ShouldStop,
		Feedback:     r.Feedback,
		Outcome:      string(r.Outcome),
	}
	spoken := r.Feedback
	if r.NextQuestion != nil {
		spoken = *r.NextQuestion
	}
	resp.AudioURL = c.Speech.SpeakURL(ctx.Request.Context(), r.SessionID, spoken)
	return resp
}

// respondError 把领域错误映射为 HTTP 状态码，上游错误细节只写日志
func (c *AssessmentController) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		util.Error(ctx, http.StatusNotFound, util.ErrSessionNotFound.Error())
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrSessionCompleted),
		errors.Is(err, util.ErrSessionTerminated),
		errors.Is(err, util.ErrSessionPaused),
		errors.Is(err, util.ErrSessionBusy),
		errors.Is(err, util.ErrInvalidTransition):
		util.Conflict(ctx, conflictMessage(err))
	case errors.Is(err, util.ErrEmptyResponse),
		errors.Is(err, util.ErrAudioTooLong),
		errors.Is(err, util.ErrNoSpeechDetected):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrSpeechUnavailable):
		util.ServiceUnavailable(ctx, util.ErrSpeechUnavailable.Error())
	case errors.Is(err, util.ErrUpstream):
		logger.Log.Warn("assessment upstream failure", zap.Error(err), zap.String("path", ctx.FullPath()))
		util.ServiceUnavailable(ctx, "assessment service is temporarily unavailable, please retry")
	default:
		util.LogInternalError(ctx, err)
	}
}

func conflictMessage(err error) string {
	for _, sentinel := range []error{
		util.ErrSessionCompleted,
		util.ErrSessionTerminated,
		util.ErrSessionPaused,
		util.ErrSessionBusy,
		util.ErrInvalidTransition,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return fmt.Sprint(err)
}
