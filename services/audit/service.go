package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log      *models.AuditLog
	Priority int // Higher priority events are processed first (for future enhancements)
}

// AuditService writes audit records. Authorization decisions are written
// synchronously through Record, so a decision and its audit entry can
// never diverge. Management events (policy and binding changes) go
// through the asynchronous worker pool.
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000, // Buffer up to 10k events
		WorkerCount: 5,     // 5 concurrent workers
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
		started:     false,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// Close the event channel (no more events will be accepted)
	close(s.eventChan)

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record writes a decision record synchronously. It does not depend on
// the worker pool being started. Callers treat Record failures as
// log-and-continue: the decision already computed is still returned.
func (s *AuditService) Record(ctx context.Context, log *models.AuditLog) error {
	if err := s.auditRepo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	// Try to send event to channel (non-blocking)
	select {
	case s.eventChan <- event:
		return nil
	default:
		// Channel is full, log warning and drop event
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("org_id", event.Log.OrgID.String()))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogEventBlocking logs an event synchronously (blocking)
// Waits until event is queued or context is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, event *AuditEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("org_id", event.Log.OrgID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// Convenience methods for logging management events

// LogPolicyCreated logs a policy creation event
func (s *AuditService) LogPolicyCreated(policy *models.Policy) error {
	log := models.NewAuditLog(policy.OrgID, models.AuditActionPolicyCreated, "policy:"+policy.ID.String(), "allow")
	if policy.EnvID != nil {
		log.WithEnv(*policy.EnvID)
	}
	log.WithDetails(map[string]interface{}{
		"name":   policy.Name,
		"active": policy.Active,
	})

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}

// LogPolicyUpdated logs a policy update event
func (s *AuditService) LogPolicyUpdated(policy *models.Policy, changes map[string]interface{}) error {
	log := models.NewAuditLog(policy.OrgID, models.AuditActionPolicyUpdated, "policy:"+policy.ID.String(), "allow")
	if policy.EnvID != nil {
		log.WithEnv(*policy.EnvID)
	}
	log.WithDetails(map[string]interface{}{
		"changes": changes,
	})

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}

// LogPolicyDeleted logs a policy deletion event
func (s *AuditService) LogPolicyDeleted(orgID, policyID uuid.UUID) error {
	log := models.NewAuditLog(orgID, models.AuditActionPolicyDeleted, "policy:"+policyID.String(), "allow")

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}

// LogBindingCreated logs a binding creation event
func (s *AuditService) LogBindingCreated(orgID uuid.UUID, binding *models.PolicyBinding) error {
	log := models.NewAuditLog(orgID, models.AuditActionBindingCreated, "binding:"+binding.ID.String(), "allow")
	log.WithDetails(map[string]interface{}{
		"policy_id":  binding.PolicyID,
		"scope_type": binding.ScopeType,
		"scope_id":   binding.ScopeID,
		"priority":   binding.Priority,
	})

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}

// LogBindingDeleted logs a binding deletion event
func (s *AuditService) LogBindingDeleted(orgID, bindingID uuid.UUID) error {
	log := models.NewAuditLog(orgID, models.AuditActionBindingDeleted, "binding:"+bindingID.String(), "allow")

	return s.LogEvent(&AuditEvent{Log: log, Priority: 1})
}

// LogTokenRejected logs a rejected credential, best effort
func (s *AuditService) LogTokenRejected(ctx context.Context, orgID uuid.UUID, reason, jti, clientIP, requestID string) {
	log := models.NewAuditLog(orgID, models.AuditActionTokenRejected, "token", "deny")
	log.WithReason(reason)
	log.WithForensics(jti, clientIP, requestID)

	if err := s.Record(ctx, log); err != nil {
		s.logger.Error("failed to record token rejection",
			zap.Error(err),
			zap.String("org_id", orgID.String()),
			zap.String("request_id", requestID))
	}
}
