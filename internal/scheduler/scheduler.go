// Package scheduler implements the task scheduler (component I, §4.6):
// three independent ticker-driven workers with no shared cursor state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/internal/processor"
	"github.com/nimbusiot/fogbatch/internal/store"
)

// Config holds the interval/delay pair for each of the three workers
// (§4.6's table).
type Config struct {
	SensorInterval  time.Duration
	SensorDelay     time.Duration
	SensorBatchSize int

	ProcessInterval time.Duration
	ProcessDelay    time.Duration

	DeliverInterval  time.Duration
	DeliverDelay     time.Duration
	DeliverBatchSize int
}

// Scheduler owns the three workers and their lifecycle.
type Scheduler struct {
	cfg   Config
	store *store.Store
	proc  *processor.Processor
	cloud *CloudClient
	log   *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New builds a Scheduler. store, proc and cloud must already be
// initialized; the Scheduler only coordinates when they run.
func New(cfg Config, st *store.Store, proc *processor.Processor, cloud *CloudClient, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  st,
		proc:   proc,
		cloud:  cloud,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches all three workers. Calling it while the workers are
// already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(3)
	go s.runSensorWorker(ctx)
	go s.runProcessWorker(ctx)
	go s.runDeliverWorker(ctx)
}

// Stop signals all workers to exit and waits for them to finish their
// current tick. The store is only closed by the caller after Stop
// returns, matching §4.6's shutdown ordering.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) runSensorWorker(ctx context.Context) {
	defer s.wg.Done()
	if !s.sleep(ctx, s.cfg.SensorDelay) {
		return
	}

	ticker := time.NewTicker(s.cfg.SensorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickSensors(ctx)
		}
	}
}

func (s *Scheduler) tickSensors(ctx context.Context) {
	sensors, err := s.store.SelectUnackedSensors(ctx, s.cfg.SensorBatchSize)
	if err != nil {
		s.log.Error("select_unacked_sensors failed", logging.Fields{"error": err.Error()})
		return
	}

	for _, sensor := range sensors {
		ok, err := s.cloud.RegisterSensor(ctx, sensor.ID, sensor.Description)
		if err != nil {
			s.log.Warn("sensor registration request failed, retrying next tick", logging.Fields{
				"sensor_id": sensor.ID, "error": err.Error(),
			})
			return
		}
		if !ok {
			continue
		}
		if err := s.store.AckSensor(ctx, sensor.ID); err != nil {
			s.log.Error("ack_sensor failed", logging.Fields{"sensor_id": sensor.ID, "error": err.Error()})
		}
	}
}

func (s *Scheduler) runProcessWorker(ctx context.Context) {
	defer s.wg.Done()
	if !s.sleep(ctx, s.cfg.ProcessDelay) {
		return
	}

	ticker := time.NewTicker(s.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickProcess(ctx)
		}
	}
}

func (s *Scheduler) tickProcess(ctx context.Context) {
	batchID, ok, err := s.store.SelectSealedUnprocessed(ctx)
	if err != nil {
		s.log.Error("select_sealed_unprocessed failed", logging.Fields{"error": err.Error()})
		return
	}
	if !ok {
		return
	}
	if _, err := s.proc.Process(ctx, batchID); err != nil {
		s.log.Error("batch processing failed", logging.Fields{"batch_id": batchID, "error": err.Error()})
	}
}

func (s *Scheduler) runDeliverWorker(ctx context.Context) {
	defer s.wg.Done()
	if !s.sleep(ctx, s.cfg.DeliverDelay) {
		return
	}

	ticker := time.NewTicker(s.cfg.DeliverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickDeliver(ctx)
		}
	}
}

func (s *Scheduler) tickDeliver(ctx context.Context) {
	candidates, err := s.store.SelectReadyForDelivery(ctx, s.cfg.DeliverBatchSize)
	if err != nil {
		s.log.Error("select_ready_for_delivery failed", logging.Fields{"error": err.Error()})
		return
	}

	for _, candidate := range candidates {
		ok, err := s.cloud.DeliverBatch(ctx, candidate.PayloadJSON)
		if err != nil {
			s.log.Warn("batch delivery request failed, retrying next tick", logging.Fields{
				"batch_id": candidate.BatchID, "error": err.Error(),
			})
			return
		}
		if !ok {
			continue
		}
		if err := s.store.AckBatch(ctx, candidate.BatchID); err != nil {
			s.log.Error("ack_batch failed", logging.Fields{"batch_id": candidate.BatchID, "error": err.Error()})
		}
	}
}

// sleep waits for d, returning false if ctx or stopCh fired first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	}
}
