package main

import (
	"github.com/gatherhq/gather/backend/internal/middleware"
	"github.com/gatherhq/gather/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for auth and join routes
	authLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.PUT("/auth/location", svc.authHandler.UpdateLocation)
			protected.PUT("/auth/password", svc.authHandler.ChangePassword)

			// Groups
			protected.GET("/groups", svc.groupHandler.List)
			protected.GET("/groups/:id", svc.groupHandler.Get)
			protected.POST("/groups", svc.groupHandler.Create)
			protected.PUT("/groups/:id", svc.groupHandler.Update)
			protected.DELETE("/groups/:id", svc.groupHandler.Deactivate)

			// Memberships
			protected.POST("/groups/:id/join", authLimiter.Middleware(), svc.membershipHandler.Join)
			protected.POST("/groups/:id/leave", svc.membershipHandler.Leave)
			protected.GET("/groups/:id/pending_requests", svc.membershipHandler.ListPending)
			protected.POST("/groups/:id/approve-request/:mid", svc.membershipHandler.Approve)
			protected.POST("/groups/:id/reject-request/:mid", svc.membershipHandler.Reject)
			protected.POST("/groups/:id/promote/:mid", svc.membershipHandler.Promote)
			protected.POST("/groups/:id/demote/:mid", svc.membershipHandler.Demote)
		}
	}
}
