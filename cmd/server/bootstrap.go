package main

import (
	"github.com/gatherhq/gather/backend/internal/config"
	"github.com/gatherhq/gather/backend/internal/handlers"
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/gatherhq/gather/backend/internal/services"
	"github.com/gatherhq/gather/backend/internal/utils"
	"github.com/gatherhq/gather/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	index             *services.ProximityIndex
	scheduler         *services.Scheduler
	taskQueue         services.TaskQueue
	worker            *services.Worker
	authHandler       *handlers.AuthHandler
	groupHandler      *handlers.GroupHandler
	membershipHandler *handlers.MembershipHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services,
// the geocoding pipeline, and the maintenance scheduler.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	// Core services
	membershipService := services.NewMembershipService(db)
	index := services.NewProximityIndex(&cfg.Discovery)
	groupService := services.NewGroupService(db, membershipService, index)
	directoryService := services.NewDirectoryService(db, membershipService, index)
	geocodeService := services.NewGeocodeService(db, &cfg.Geocoding)
	pipeline := services.NewGeocodePipeline(db, geocodeService, index)

	// Warm the proximity index from existing geocoded groups
	if err := index.Rebuild(db); err != nil {
		logger.Warn().Err(err).Msg("Initial proximity index build failed")
	}

	// Task queue (uses Redis if enabled, otherwise in-process mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(pipeline.Process)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(pipeline.Process)
			worker.Start()
		}
	}

	// Maintenance scheduler: index rebuild, geocode cache sweep
	scheduler := services.NewScheduler(db, index, geocodeService)
	if err := scheduler.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start scheduler")
	}

	return &appServices{
		index:             index,
		scheduler:         scheduler,
		taskQueue:         taskQueue,
		worker:            worker,
		authHandler:       handlers.NewAuthHandler(db, cfg),
		groupHandler:      handlers.NewGroupHandler(groupService, directoryService),
		membershipHandler: handlers.NewMembershipHandler(membershipService),
		healthHandler:     handlers.NewHealthHandler(index),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	logger.Info().Msg("Scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
