package service

import (
	"BlockDB/internal/domain"
)

type HasRecordService struct {
	repository domain.RecordRepository
}

func NewHasRecordService(repository domain.RecordRepository) *HasRecordService {
	return &HasRecordService{
		repository: repository,
	}
}

type HasRecordQuery struct {
	ID any
}

type HasRecordResult struct {
	Found bool
	Err   error
}

func (s *HasRecordService) Execute(query HasRecordQuery) HasRecordResult {
	found, err := s.repository.Has(query.ID)
	if err != nil {
		return HasRecordResult{Err: err}
	}
	return HasRecordResult{Found: found}
}
