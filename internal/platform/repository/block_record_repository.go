package repository

import (
	"BlockDB/internal/domain"
	"BlockDB/internal/platform/repository/blocklog"
)

// BlockLogRepository adapts the block-log engine to the domain repository
// contract used by the application services.
type BlockLogRepository struct {
	engine *blocklog.Engine
}

func NewBlockLogRepository(engine *blocklog.Engine) *BlockLogRepository {
	return &BlockLogRepository{engine: engine}
}

func (r *BlockLogRepository) Save(id any, value domain.Record) (domain.Record, error) {
	return r.engine.Set(id, value)
}

func (r *BlockLogRepository) Get(id any) (domain.Record, bool, error) {
	return r.engine.Get(id)
}

func (r *BlockLogRepository) Delete(id any) error {
	return r.engine.Delete(id)
}

func (r *BlockLogRepository) Has(id any) (bool, error) {
	return r.engine.Has(id)
}

func (r *BlockLogRepository) Engine() *blocklog.Engine {
	return r.engine
}
