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

// SubdivisionRepository implements domain.SubdivisionRepository over
// bun/PostgreSQL (§4.8).
type SubdivisionRepository struct {
	db bun.IDB
}

// NewSubdivisionRepository constructs a SubdivisionRepository.
func NewSubdivisionRepository(db bun.IDB) *SubdivisionRepository {
	return &SubdivisionRepository{db: db}
}

// Create implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) Create(ctx context.Context, s *domain.Subdivision) (*domain.Subdivision, error) {
	if s.SubdivisionID == "" {
		s.SubdivisionID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now

	row := fromDomainSubdivision(s)
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) Get(ctx context.Context, subdivisionID string) (*domain.Subdivision, error) {
	row := &models.SubdivisionModel{}
	err := r.db.NewSelect().Model(row).Where("subdivision_id = ?", subdivisionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("subdivision not found: " + subdivisionID)
	}
	if err != nil {
		return nil, err
	}
	return toDomainSubdivision(row), nil
}

// ListByTask implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) ListByTask(ctx context.Context, taskID string, withInstancesOnly bool) ([]*domain.Subdivision, error) {
	var rows []*models.SubdivisionModel
	q := r.db.NewSelect().Model(&rows).Where("original_task_id = ? AND is_deleted = ?", taskID, false)
	if withInstancesOnly {
		q = q.Where("sub_instance_id IS NOT NULL AND sub_instance_id != ''")
	}
	if err := q.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Subdivision, len(rows))
	for i, row := range rows {
		out[i] = toDomainSubdivision(row)
	}
	return out, nil
}

// Update implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) Update(ctx context.Context, s *domain.Subdivision) error {
	s.UpdatedAt = time.Now()
	row := fromDomainSubdivision(s)
	_, err := r.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	return err
}

// UnselectSiblings implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) UnselectSiblings(ctx context.Context, taskID string, exceptSubdivisionID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.SubdivisionModel)(nil)).
		Set("is_selected = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("original_task_id = ? AND subdivision_id != ?", taskID, exceptSubdivisionID).
		Exec(ctx)
	return err
}

// DeleteExceptMostRecent implements domain.SubdivisionRepository: soft-
// deletes every subdivision of taskID beyond the keepCount most recent,
// always retaining the selected one regardless of its age (§4.8
// Cleanup-unselected).
func (r *SubdivisionRepository) DeleteExceptMostRecent(ctx context.Context, taskID string, keepCount int) error {
	var rows []*models.SubdivisionModel
	if err := r.db.NewSelect().
		Model(&rows).
		Where("original_task_id = ? AND is_deleted = ?", taskID, false).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return err
	}

	keep := make(map[string]bool, keepCount+1)
	kept := 0
	for _, row := range rows {
		if row.IsSelected {
			keep[row.SubdivisionID] = true
		}
	}
	for _, row := range rows {
		if keep[row.SubdivisionID] {
			continue
		}
		if kept < keepCount {
			keep[row.SubdivisionID] = true
			kept++
		}
	}

	var toDelete []string
	for _, row := range rows {
		if !keep[row.SubdivisionID] {
			toDelete = append(toDelete, row.SubdivisionID)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	_, err := r.db.NewUpdate().
		Model((*models.SubdivisionModel)(nil)).
		Set("is_deleted = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("subdivision_id IN (?)", bun.In(toDelete)).
		Exec(ctx)
	return err
}

// CreateAdoption implements domain.SubdivisionRepository.
func (r *SubdivisionRepository) CreateAdoption(ctx context.Context, a *domain.Adoption) (*domain.Adoption, error) {
	if a.AdoptionID == "" {
		a.AdoptionID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	row := &models.AdoptionModel{
		AdoptionID:       a.AdoptionID,
		SubdivisionID:    a.SubdivisionID,
		ParentWorkflowID: a.ParentWorkflowID,
		TargetNodeID:     a.TargetNodeID,
		Name:             a.Name,
		AddedNodeIDs:     models.StringArray(a.AddedNodeIDs),
		CreatedAt:        a.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func toDomainSubdivision(m *models.SubdivisionModel) *domain.Subdivision {
	return &domain.Subdivision{
		SubdivisionID:       m.SubdivisionID,
		OriginalTaskID:      m.OriginalTaskID,
		SubWorkflowBaseID:   m.SubWorkflowBaseID,
		SubInstanceID:       m.SubInstanceID,
		ParentSubdivisionID: m.ParentSubdivisionID,
		Name:                m.Name,
		IsSelected:          m.IsSelected,
		IsDeleted:           m.IsDeleted,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func fromDomainSubdivision(s *domain.Subdivision) *models.SubdivisionModel {
	return &models.SubdivisionModel{
		SubdivisionID:       s.SubdivisionID,
		OriginalTaskID:      s.OriginalTaskID,
		SubWorkflowBaseID:   s.SubWorkflowBaseID,
		SubInstanceID:       s.SubInstanceID,
		ParentSubdivisionID: s.ParentSubdivisionID,
		Name:                s.Name,
		IsSelected:          s.IsSelected,
		IsDeleted:           s.IsDeleted,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}
