package services

import (
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Scheduler runs the periodic maintenance jobs: the hourly proximity
// index rebuild (backstop for the eventually consistent read model) and
// the nightly geocode cache sweep.
type Scheduler struct {
	db      *gorm.DB
	index   *ProximityIndex
	geocode *GeocodeService
	cron    *cron.Cron
}

func NewScheduler(db *gorm.DB, index *ProximityIndex, geocode *GeocodeService) *Scheduler {
	return &Scheduler{
		db:      db,
		index:   index,
		geocode: geocode,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc("@hourly", func() {
		if err := s.index.Rebuild(s.db); err != nil {
			logger.Errorf("[Scheduler] proximity index rebuild failed: %v", err)
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("30 3 * * *", func() {
		if _, err := s.geocode.SweepExpired(); err != nil {
			logger.Errorf("[Scheduler] geocode cache sweep failed: %v", err)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started: hourly index rebuild, nightly cache sweep")
	return nil
}

// Stop halts the cron runner.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
