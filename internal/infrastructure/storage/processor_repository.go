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

// ProcessorRepository implements domain.ProcessorRepository over bun/PostgreSQL.
type ProcessorRepository struct {
	db bun.IDB
}

// NewProcessorRepository constructs a ProcessorRepository.
func NewProcessorRepository(db bun.IDB) *ProcessorRepository {
	return &ProcessorRepository{db: db}
}

// Get implements domain.ProcessorRepository.
func (r *ProcessorRepository) Get(ctx context.Context, processorID string) (*domain.Processor, error) {
	row := &models.ProcessorModel{}
	err := r.db.NewSelect().Model(row).Where("processor_id = ?", processorID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("processor not found: " + processorID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainProcessor(row), nil
}

// Create implements domain.ProcessorRepository.
func (r *ProcessorRepository) Create(ctx context.Context, p *domain.Processor) (*domain.Processor, error) {
	if p.ProcessorID == "" {
		p.ProcessorID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	row := &models.ProcessorModel{
		ProcessorID: p.ProcessorID,
		Kind:        string(p.Kind),
		UserID:      p.UserID,
		AgentID:     p.AgentID,
		Name:        p.Name,
		Metadata:    models.JSONBMap(p.Metadata),
		CreatedAt:   p.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete implements domain.ProcessorRepository. It first deletes the
// processor_bindings rows that reference the processor, then the
// processor row itself; the schema's foreign key is ON DELETE RESTRICT,
// so the bindings are cleared here rather than by a cascade (§4.1).
func (r *ProcessorRepository) Delete(ctx context.Context, processorID string) error {
	if _, err := r.db.NewDelete().
		Model((*models.ProcessorBindingModel)(nil)).
		Where("processor_id = ?", processorID).
		Exec(ctx); err != nil {
		return err
	}
	_, err := r.db.NewDelete().
		Model((*models.ProcessorModel)(nil)).
		Where("processor_id = ?", processorID).
		Exec(ctx)
	return err
}
