package service

import (
	"BlockDB/internal/domain"
)

type SaveRecordService struct {
	repository domain.RecordRepository
}

func NewSaveRecordService(repository domain.RecordRepository) *SaveRecordService {
	return &SaveRecordService{
		repository: repository,
	}
}

type SaveRecordCommand struct {
	ID    any
	Value domain.Record
}

type SaveRecordResult struct {
	Record domain.Record
	Err    error
}

func (s *SaveRecordService) Execute(command SaveRecordCommand) SaveRecordResult {
	rec, err := s.repository.Save(command.ID, command.Value)
	if err != nil {
		return SaveRecordResult{Err: err}
	}
	return SaveRecordResult{Record: rec}
}
