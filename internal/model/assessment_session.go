package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
	// SessionTerminated marks a session stopped by a crisis signal.
	SessionTerminated SessionStatus = "terminated"
)

// 五个固定维度，顺序即并列时的优先顺序
const (
	DimEmotionalRegulation = "emotional_regulation"
	DimStressResilience    = "stress_resilience"
	DimSelfAwareness       = "self_awareness"
	DimSocialSupport       = "social_support"
	DimCopingConfidence    = "coping_confidence"
)

var DimensionOrder = []string{
	DimEmotionalRegulation,
	DimStressResilience,
	DimSelfAwareness,
	DimSocialSupport,
	DimCopingConfidence,
}

const DefaultDimensionScore = 0.5

// Dimensions maps a dimension name to a score in [0, 1]. Stored as a JSON column.
type Dimensions map[string]float64

func NewDimensions() Dimensions {
	d := make(Dimensions, len(DimensionOrder))
	for _, name := range DimensionOrder {
		d[name] = DefaultDimensionScore
	}
	return d
}

func IsDimension(name string) bool {
	for _, d := range DimensionOrder {
		if d == name {
			return true
		}
	}
	return false
}

func (d Dimensions) Clone() Dimensions {
	out := make(Dimensions, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Dimensions) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(d))
	return string(b), err
}

func (d *Dimensions) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// AssessmentTurn is one answered question.
// swagger:model AssessmentTurn
type AssessmentTurn struct {
	QuestionID   string             `json:"questionId"`
	QuestionText string             `json:"questionText"`
	UserResponse string             `json:"userResponse"`
	Sentiment    float64            `json:"sentiment"`
	Analysis     map[string]float64 `json:"analysis"`
	Timestamp    time.Time          `json:"timestamp"`
}

// TurnHistory is append-only and kept in chronological order.
type TurnHistory []AssessmentTurn

func (h TurnHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]AssessmentTurn(h))
	return string(b), err
}

func (h *TurnHistory) Scan(value interface{}) error {
	return scanJSON(value, h)
}

func (h TurnHistory) Clone() TurnHistory {
	out := make(TurnHistory, len(h))
	for i, t := range h {
		out[i] = t
		if t.Analysis != nil {
			out[i].Analysis = make(map[string]float64, len(t.Analysis))
			for k, v := range t.Analysis {
				out[i].Analysis[k] = v
			}
		}
	}
	return out
}

// AssessmentSession 自适应心理评估会话
// swagger:model AssessmentSession
type AssessmentSession struct {
	UUIDBase
	UserID            uint          `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	Status            SessionStatus `gorm:"size:20;default:'in_progress';index" json:"status"`
	CurrentDepth      int           `gorm:"default:1" json:"currentDepth"`
	QuestionsAnswered int           `gorm:"default:0" json:"questionsAnswered"`
	Dimensions        Dimensions    `gorm:"type:json" json:"dimensions"`
	History           TurnHistory   `gorm:"type:json" json:"history"`
	PendingQuestion   *string       `gorm:"type:text" json:"pendingQuestion,omitempty"`
	Context           string        `gorm:"type:text" json:"context,omitempty"`
	TerminationReason *string       `gorm:"type:text" json:"terminationReason,omitempty"`
	StartedAt         time.Time     `json:"startedAt"`
	LastUpdated       time.Time     `json:"lastUpdated"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
	Version           int64         `gorm:"not null;default:0" json:"version"`
}

func (AssessmentSession) TableName() string {
	return "assessment_sessions"
}

// Clone returns a deep copy so a failed turn can never leak into the caller's value.
func (s *AssessmentSession) Clone() *AssessmentSession {
	c := *s
	c.Dimensions = s.Dimensions.Clone()
	c.History = s.History.Clone()
	if s.PendingQuestion != nil {
		q := *s.PendingQuestion
		c.PendingQuestion = &q
	}
	if s.TerminationReason != nil {
		r := *s.TerminationReason
		c.TerminationReason = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *AssessmentSession) IsFinished() bool {
	return s.Status == SessionCompleted || s.Status == SessionTerminated
}

func scanJSON(value interface{}, dst interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported json column type")
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
