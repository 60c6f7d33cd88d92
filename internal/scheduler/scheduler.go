package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/runner"
	"github.com/ternarybob/flowd/internal/storage"
)

// Scheduler-level sentinel errors
var (
	ErrFlowAlreadyAdded = errors.New("flow already added")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

type entry struct {
	path           string
	cron           string
	everySeconds   int
	timeoutSeconds int
	cronID         cron.EntryID
	lastJobID      string
	running        bool
}

// Scheduler drives registered flows on cron expressions or fixed intervals.
// One shared cron engine carries both kinds; intervals become "@every Ns"
// descriptors. Next-fire computation honors the configured timezone.
type Scheduler struct {
	runner         *runner.Runner
	env            *flows.Env
	logger         arbor.ILogger
	defaultTimeout int
	cron           *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
}

func New(r *runner.Runner, env *flows.Env, location *time.Location, defaultTimeoutSeconds int, logger arbor.ILogger) *Scheduler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Scheduler{
		runner:         r,
		env:            env,
		logger:         logger,
		defaultTimeout: defaultTimeoutSeconds,
		cron:           cron.New(cron.WithLocation(location)),
		entries:        make(map[string]*entry),
	}
}

// AddFlow registers a schedule. The flow file must exist and parse; a path
// may only be scheduled once.
func (s *Scheduler) AddFlow(req models.ScheduleRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	// A schedule for an unloadable flow would only ever produce failed jobs
	if _, err := flows.NewFlow(s.env, req.Path, nil, 0, ""); err != nil {
		return "", err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entries {
		if existing.path == req.Path {
			return "", fmt.Errorf("%w: flow %s is already added to the scheduler", ErrFlowAlreadyAdded, req.Path)
		}
	}

	id := uuid.NewString()
	spec := req.Cron
	if req.EverySeconds > 0 {
		spec = fmt.Sprintf("@every %ds", req.EverySeconds)
	}

	cronID, err := s.cron.AddFunc(spec, func() { s.fire(id) })
	if err != nil {
		return "", fmt.Errorf("%w: bad schedule expression %q: %v", ErrInvalidSchedule, spec, err)
	}

	s.entries[id] = &entry{
		path:           req.Path,
		cron:           req.Cron,
		everySeconds:   req.EverySeconds,
		timeoutSeconds: timeout,
		cronID:         cronID,
	}

	s.logger.Info().
		Str("schedule_id", id).
		Str("flow", req.Path).
		Str("spec", spec).
		Msg("Flow added to scheduler")
	return id, nil
}

// fire launches one scheduled run. A launch rejected because the flow is
// already running just drops this tick; nothing is queued.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	item, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	item.running = true
	path := item.path
	timeout := item.timeoutSeconds
	meta := &models.JobMeta{
		FlowPath:     path,
		Timeout:      timeout,
		Source:       models.JobSourceScheduler,
		ScheduleID:   id,
		Cron:         item.cron,
		EverySeconds: item.everySeconds,
	}
	s.mu.Unlock()

	jobID, err := s.runner.LaunchAsync(path, nil, timeout, meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.entries[id]; ok {
		item.running = false
		if err == nil {
			item.lastJobID = jobID
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrFlowAlreadyRunning):
		s.logger.Warn().Str("flow", path).Msg("Skipping scheduled run, flow is already running")
	default:
		s.logger.Error().Str("flow", path).Err(err).Msg("Error running scheduled flow")
	}
}

// RemoveFlow drops a schedule and cancels its trigger
func (s *Scheduler) RemoveFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	s.cron.Remove(item.cronID)
	delete(s.entries, id)

	s.logger.Info().Str("schedule_id", id).Str("flow", item.path).Msg("Flow removed from scheduler")
	return nil
}

// ListFlows returns all registered schedules, ordered by path for stable
// output.
func (s *Scheduler) ListFlows() []models.ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]models.ScheduleInfo, 0, len(s.entries))
	for id, item := range s.entries {
		list = append(list, models.ScheduleInfo{
			ID:             id,
			Path:           item.path,
			Cron:           item.cron,
			EverySeconds:   item.everySeconds,
			TimeoutSeconds: item.timeoutSeconds,
			LastJobID:      item.lastJobID,
			Running:        item.running,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list
}

// Start begins driving the triggers
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop halts triggering; runs already launched keep going
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}
