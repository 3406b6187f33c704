// Package v1 exposes the HTTP API: room and thread CRUD, message posting
// under quota, AI response generation and the room event stream.
package v1

import (
	"context"
	"sync"

	"github.com/labstack/echo/v5"

	"github.com/useparley/parley/plugin/aiprovider"
	"github.com/useparley/parley/plugin/quota"
	"github.com/useparley/parley/plugin/realtime"
	"github.com/useparley/parley/plugin/resilience"
	"github.com/useparley/parley/plugin/streaming"
	"github.com/useparley/parley/server/profile"
	"github.com/useparley/parley/store"
)

// APIV1Service holds the wired dependencies of the v1 handlers.
type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Hub      *realtime.Hub
	Manager  *streaming.Manager
	Limiter  *quota.Limiter
	Provider aiprovider.Provider
	Breaker  *resilience.Breaker
	Retry    resilience.RetryConfig

	// Cancel functions for in-flight generations, keyed by session id, so an
	// abort or a shutdown stops the provider call instead of letting it run
	// to completion in the background.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewAPIV1Service assembles the v1 handler set.
func NewAPIV1Service(
	prof *profile.Profile,
	st *store.Store,
	hub *realtime.Hub,
	manager *streaming.Manager,
	limiter *quota.Limiter,
	provider aiprovider.Provider,
	breaker *resilience.Breaker,
	retry resilience.RetryConfig,
) *APIV1Service {
	return &APIV1Service{
		Profile:  prof,
		Store:    st,
		Hub:      hub,
		Manager:  manager,
		Limiter:  limiter,
		Provider: provider,
		Breaker:  breaker,
		Retry:    retry,
		cancels:  map[string]context.CancelFunc{},
	}
}

// RegisterRoutes attaches every v1 route to the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/rooms", s.listRooms)
	g.POST("/rooms", s.createRoom)
	g.GET("/rooms/:uid", s.getRoom)
	g.PATCH("/rooms/:uid", s.updateRoom)
	g.DELETE("/rooms/:uid", s.deleteRoom)
	g.GET("/rooms/:uid/events", s.streamRoomEvents)
	g.GET("/rooms/:uid/threads", s.listThreads)
	g.POST("/rooms/:uid/threads", s.createThread)
	g.DELETE("/rooms/:uid/threads/:tid", s.deleteThread)
	g.GET("/rooms/:uid/threads/:tid/messages", s.listMessages)
	g.POST("/rooms/:uid/threads/:tid/messages", s.postMessage)
	g.POST("/rooms/:uid/threads/:tid/generate", s.generate)
	g.POST("/rooms/:uid/threads/:tid/abort", s.abortGeneration)
}
