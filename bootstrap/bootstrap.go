package bootstrap

import (
	"BlockDB/internal/application/service"
	"BlockDB/internal/domain"
	"BlockDB/internal/platform/config"
	"BlockDB/internal/platform/repository"
	"BlockDB/internal/platform/repository/blocklog"
	"BlockDB/internal/platform/shell"
	"go.uber.org/dig"
)

func Run() (bool, error) {
	container := dig.New()
	serviceConstructors := []interface{}{
		config.LoadConfig,
		engine,
		repository.NewBlockLogRepository,
		recordRepository,
		service.NewSaveRecordService,
		service.NewGetRecordService,
		service.NewDeleteRecordService,
		service.NewHasRecordService,
		shell.NewShell,
	}
	for _, constructor := range serviceConstructors {
		if err := container.Provide(constructor); err != nil {
			return false, err
		}
	}
	err := container.Invoke(func(sh *shell.Shell, repo *repository.BlockLogRepository) error {
		defer repo.Engine().Close()
		return sh.Run()
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func engine(cfg config.Config) (*blocklog.Engine, error) {
	opts := blocklog.Options{
		DirPath:            cfg.DirPath,
		MaxBlockSize:       cfg.MaxBlockSize,
		DataSyncDelay:      cfg.DataSyncDelay,
		StaleDataThreshold: cfg.StaleDataThreshold,
		CompactDelay:       cfg.CompactDelay,
		CachedFields:       cfg.CachedFields,
	}
	return blocklog.Open(opts)
}

func recordRepository(repo *repository.BlockLogRepository) domain.RecordRepository {
	return repo
}
