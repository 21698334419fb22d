package sqlite

import (
	"context"

	"github.com/example/neighborhood-portal/internal/persistence"
)

// NeighborhoodRepository reads RT and RW reference data.
type NeighborhoodRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewNeighborhoodRepository creates a new SQLite neighborhood repository.
func NewNeighborhoodRepository(pool *ConnectionPool) *NeighborhoodRepository {
	return &NeighborhoodRepository{helper: NewQueryHelper(pool), mapper: NewErrorMapper()}
}

// GetRT returns the RT together with its parent RW.
func (r *NeighborhoodRepository) GetRT(ctx context.Context, rtID int64) (persistence.Neighborhood, error) {
	var n persistence.Neighborhood
	err := r.helper.QueryRow(ctx, `
		SELECT rts.id, rts.rt_no, rws.id, rws.rw_no
		FROM rts JOIN rws ON rws.id = rts.rw_id
		WHERE rts.id = ?`, rtID,
	).Scan(&n.RTID, &n.RTNo, &n.RWID, &n.RWNo)
	if err != nil {
		return persistence.Neighborhood{}, r.mapper.MapError(err)
	}
	return n, nil
}

// GetRW returns the RW; the RT fields stay zero.
func (r *NeighborhoodRepository) GetRW(ctx context.Context, rwID int64) (persistence.Neighborhood, error) {
	var n persistence.Neighborhood
	err := r.helper.QueryRow(ctx, `SELECT id, rw_no FROM rws WHERE id = ?`, rwID).Scan(&n.RWID, &n.RWNo)
	if err != nil {
		return persistence.Neighborhood{}, r.mapper.MapError(err)
	}
	return n, nil
}
