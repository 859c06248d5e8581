package service

import (
	"BlockDB/internal/domain"
)

type DeleteRecordService struct {
	repository domain.RecordRepository
}

func NewDeleteRecordService(repository domain.RecordRepository) *DeleteRecordService {
	return &DeleteRecordService{
		repository: repository,
	}
}

type DeleteRecordCommand struct {
	ID any
}

type DeleteRecordResult struct {
	Err error
}

func (s *DeleteRecordService) Execute(command DeleteRecordCommand) DeleteRecordResult {
	if err := s.repository.Delete(command.ID); err != nil {
		return DeleteRecordResult{Err: err}
	}
	return DeleteRecordResult{}
}
