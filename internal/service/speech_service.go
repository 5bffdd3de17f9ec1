package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"wellness_backend/internal/config"
	"wellness_backend/internal/util"
	"wellness_backend/pkg/logger"
	"wellness_backend/pkg/monitoring"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// SpeechService 语音转写与语音合成，接口兼容 OpenAI audio API
type SpeechService struct {
	config  config.SpeechConfig
	storage *StorageService
	client  openaigo.Client
	probe   func(path string) (*util.AudioInfo, error)
}

func NewSpeechService(cfg config.SpeechConfig, storage *StorageService, httpClient *http.Client) *SpeechService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	// 语音失败由调用方降级处理，不在请求内重试
	client := openaigo.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &SpeechService{
		config:  cfg,
		storage: storage,
		client:  client,
		probe:   util.GetAudioInfo,
	}
}

func (s *SpeechService) Enabled() bool {
	return s != nil && s.config.Enabled && s.config.BaseURL != ""
}

// CheckClip 拒绝超长录音；探测失败不阻断请求
func (s *SpeechService) CheckClip(audioPath string) error {
	if s.config.MaxAudioSeconds <= 0 {
		return nil
	}
	info, err := s.probe(audioPath)
	if err != nil {
		logger.Log.Warn("audio probe failed", zap.String("path", audioPath), zap.Error(err))
		return nil
	}
	if info.Duration > float64(s.config.MaxAudioSeconds) {
		return fmt.Errorf("%w: %.1fs exceeds %ds", util.ErrAudioTooLong, info.Duration, s.config.MaxAudioSeconds)
	}
	return nil
}

func (s *SpeechService) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if !s.Enabled() {
		return "", util.ErrSpeechUnavailable
	}

	start := time.Now()
	text, err := s.transcribe(ctx, audioPath)
	monitoring.ObserveUpstream("stt", start, err)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", util.ErrNoSpeechDetected
	}
	return strings.TrimSpace(text), nil
}

func (s *SpeechService) transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// *os.File 自带文件名，SDK 以此作为 multipart 的 filename
	resp, err := s.client.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		File:           f,
		Model:          s.config.STTModel,
		ResponseFormat: openaigo.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("%w: stt request: %v", util.ErrUpstream, err)
	}
	return resp.Text, nil
}

func (s *SpeechService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.Enabled() {
		return nil, util.ErrSpeechUnavailable
	}

	start := time.Now()
	audio, err := s.synthesize(ctx, text)
	monitoring.ObserveUpstream("tts", start, err)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (s *SpeechService) synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openaigo.AudioSpeechNewParams{
		Input:          text,
		Model:          s.config.TTSModel,
		Voice:          openaigo.AudioSpeechNewParamsVoice(s.config.TTSVoice),
		ResponseFormat: openaigo.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: tts request: %v", util.ErrUpstream, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: tts body: %v", util.ErrUpstream, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: tts returned empty audio", util.ErrUpstream)
	}
	return audio, nil
}

// SpeakURL 合成并保存语音，任何失败只记录日志并返回 nil
func (s *SpeechService) SpeakURL(ctx context.Context, sessionID, text string) *string {
	if !s.Enabled() || s.storage == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	audio, err := s.Synthesize(ctx, text)
	if err != nil {
		logger.Log.Warn("tts failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	url, err := s.storage.SaveSpeech(ctx, sessionID, audio)
	if err != nil {
		logger.Log.Warn("tts clip not stored", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return &url
}
