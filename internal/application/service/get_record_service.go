package service

import (
	"BlockDB/internal/domain"
)

type GetRecordService struct {
	repository domain.RecordRepository
}

func NewGetRecordService(repository domain.RecordRepository) *GetRecordService {
	return &GetRecordService{
		repository: repository,
	}
}

type GetRecordQuery struct {
	ID any
}

type GetRecordResult struct {
	Record domain.Record
	Found  bool
	Err    error
}

func (s *GetRecordService) Execute(query GetRecordQuery) GetRecordResult {
	rec, found, err := s.repository.Get(query.ID)
	if err != nil {
		return GetRecordResult{Err: err}
	}
	return GetRecordResult{
		Record: rec,
		Found:  found,
	}
}
