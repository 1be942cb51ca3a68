package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/storage/models"
)

// SimulatorRepository implements domain.SimulatorRepository over
// bun/PostgreSQL (§4.6).
type SimulatorRepository struct {
	db bun.IDB
}

// NewSimulatorRepository constructs a SimulatorRepository.
func NewSimulatorRepository(db bun.IDB) *SimulatorRepository {
	return &SimulatorRepository{db: db}
}

// CreateSession implements domain.SimulatorRepository.
func (r *SimulatorRepository) CreateSession(ctx context.Context, s *domain.SimulatorSession) (*domain.SimulatorSession, error) {
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now

	row := fromDomainSimulatorSession(s)
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSession implements domain.SimulatorRepository.
func (r *SimulatorRepository) UpdateSession(ctx context.Context, s *domain.SimulatorSession) error {
	s.UpdatedAt = time.Now()
	row := fromDomainSimulatorSession(s)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

// GetSession implements domain.SimulatorRepository.
func (r *SimulatorRepository) GetSession(ctx context.Context, sessionID string) (*domain.SimulatorSession, error) {
	row := &models.SimulatorSessionModel{}
	err := r.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("simulator session not found: " + sessionID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainSimulatorSession(row), nil
}

// GetSessionByTask implements domain.SimulatorRepository.
func (r *SimulatorRepository) GetSessionByTask(ctx context.Context, taskID string) (*domain.SimulatorSession, error) {
	row := &models.SimulatorSessionModel{}
	err := r.db.NewSelect().
		Model(row).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("simulator session not found for task: " + taskID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainSimulatorSession(row), nil
}

// AppendMessage implements domain.SimulatorRepository.
func (r *SimulatorRepository) AppendMessage(ctx context.Context, m *domain.SimulatorMessage) error {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	row := &models.SimulatorMessageModel{
		MessageID: m.MessageID,
		SessionID: m.SessionID,
		Round:     m.Round,
		Speaker:   string(m.Speaker),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	_, err := r.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// ListMessages implements domain.SimulatorRepository.
func (r *SimulatorRepository) ListMessages(ctx context.Context, sessionID string) ([]*domain.SimulatorMessage, error) {
	var rows []*models.SimulatorMessageModel
	if err := r.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("round ASC, created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.SimulatorMessage, len(rows))
	for i, row := range rows {
		out[i] = &domain.SimulatorMessage{
			MessageID: row.MessageID,
			SessionID: row.SessionID,
			Round:     row.Round,
			Speaker:   domain.SimulatorSpeaker(row.Speaker),
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

// CreateExecutionResult implements domain.SimulatorRepository.
func (r *SimulatorRepository) CreateExecutionResult(ctx context.Context, res *domain.SimulatorExecutionResult) (*domain.SimulatorExecutionResult, error) {
	if res.ResultID == "" {
		res.ResultID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	row := &models.SimulatorExecutionResultModel{
		ResultID:          res.ResultID,
		SessionID:         res.SessionID,
		ExecutionType:     string(res.ExecutionType),
		ResultData:        models.JSONBMap(res.ResultData),
		Confidence:        res.Confidence,
		TotalRounds:       res.TotalRounds,
		DecisionReasoning: res.DecisionReasoning,
		CreatedAt:         res.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func toDomainSimulatorSession(m *models.SimulatorSessionModel) *domain.SimulatorSession {
	return &domain.SimulatorSession{
		SessionID:     m.SessionID,
		TaskID:        m.TaskID,
		WeakModel:     m.WeakModel,
		StrongModel:   m.StrongModel,
		MaxRounds:     m.MaxRounds,
		CurrentRound:  m.CurrentRound,
		Status:        domain.SimulatorStatus(m.Status),
		FinalDecision: domain.FinalDecision(m.FinalDecision),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainSimulatorSession(s *domain.SimulatorSession) *models.SimulatorSessionModel {
	return &models.SimulatorSessionModel{
		SessionID:     s.SessionID,
		TaskID:        s.TaskID,
		WeakModel:     s.WeakModel,
		StrongModel:   s.StrongModel,
		MaxRounds:     s.MaxRounds,
		CurrentRound:  s.CurrentRound,
		Status:        string(s.Status),
		FinalDecision: string(s.FinalDecision),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
