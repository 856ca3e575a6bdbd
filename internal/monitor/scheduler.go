package monitor

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// scheduler wraps the cron runner driving the periodic jobs.
type scheduler struct {
	cron *cron.Cron
}

// Start schedules the periodic jobs and begins running them. The first
// discovery sweep and catalog pass run immediately so a fresh install
// starts collecting without waiting a full interval.
func (s *Service) Start(ctx context.Context) error {
	if s.scheduler != nil {
		return fmt.Errorf("monitor: already started")
	}

	c := cron.New()

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.DiscoveryInterval), func() {
		if _, err := s.RunDiscovery(ctx); err != nil {
			s.logger.Error("scheduled discovery failed", "error", err)
			return
		}
		if _, err := s.BuildCatalogs(ctx); err != nil {
			s.logger.Error("scheduled catalog pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling discovery: %w", err)
	}

	_, err = c.AddFunc(fmt.Sprintf("@every %s", s.cfg.CollectionInterval), func() {
		if _, err := s.RunCollection(ctx); err != nil {
			s.logger.Error("scheduled collection failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling collection: %w", err)
	}

	s.scheduler = &scheduler{cron: c}
	c.Start()

	s.logger.Info("monitor schedule started",
		"discovery_interval", s.cfg.DiscoveryInterval,
		"collection_interval", s.cfg.CollectionInterval)

	// Bootstrap pass so the registry is populated before the first tick.
	go func() {
		if _, err := s.RunDiscovery(ctx); err != nil {
			s.logger.Error("initial discovery failed", "error", err)
			return
		}
		if _, err := s.BuildCatalogs(ctx); err != nil {
			s.logger.Error("initial catalog pass failed", "error", err)
		}
	}()

	return nil
}

// Stop halts the schedule and waits for running jobs to finish.
func (s *Service) Stop() {
	if s.scheduler == nil {
		return
	}
	<-s.scheduler.cron.Stop().Done()
	s.scheduler = nil
	s.logger.Info("monitor schedule stopped")
}
