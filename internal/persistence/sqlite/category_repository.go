package sqlite

import (
	"context"

	"github.com/example/neighborhood-portal/internal/persistence"
)

// CategoryRepository reads the letter category catalog.
type CategoryRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewCategoryRepository creates a new SQLite category repository.
func NewCategoryRepository(pool *ConnectionPool) *CategoryRepository {
	return &CategoryRepository{helper: NewQueryHelper(pool), mapper: NewErrorMapper()}
}

// ListCategories returns active categories ordered by name.
func (r *CategoryRepository) ListCategories(ctx context.Context) ([]persistence.Category, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT id, name, description, active FROM categories
		WHERE active = 1
		ORDER BY name ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var categories []persistence.Category
	for rows.Next() {
		var c persistence.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active); err != nil {
			return nil, r.mapper.MapError(err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return categories, nil
}

// GetCategory returns a category by ID, including inactive ones.
func (r *CategoryRepository) GetCategory(ctx context.Context, id string) (persistence.Category, error) {
	var c persistence.Category
	err := r.helper.QueryRow(ctx, `SELECT id, name, description, active FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Active)
	if err != nil {
		return persistence.Category{}, r.mapper.MapError(err)
	}
	return c, nil
}
