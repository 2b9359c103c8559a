package services

import (
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/manager"
)

// DefaultFactory builds the standard service bundle: Core/Presence/Model
// relays plus an Activity service reading the same liveness tracker the
// per-connection admission actors write to. Each call produces a fresh
// tracker, so dedicated pools get per-cospace liveness state and a
// shared pool gets one node-wide tracker.
func DefaultFactory(log zerolog.Logger) manager.ServiceImplFactory {
	return func() manager.ServiceImpls {
		tracker := activity.NewTracker()
		return manager.ServiceImpls{
			Core:     NewCoreService(log),
			Presence: NewPresenceService(log),
			Activity: NewActivityService(tracker, log),
			Model:    NewModelService(log),
			Tracker:  tracker,
		}
	}
}
