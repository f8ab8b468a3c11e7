package health

import (
	"context"
	"sort"
	"time"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Gauge reports a point-in-time figure included in the health payload.
type Gauge func() int

// Service encapsulates health-related checks.
type Service struct {
	checks  map[string]Check
	gauges  map[string]Gauge
	timeout time.Duration
}

// NewService constructs a new health service.
func NewService() *Service {
	return &Service{
		checks:  map[string]Check{},
		gauges:  map[string]Gauge{},
		timeout: 2 * time.Second,
	}
}

// AddCheck registers a dependency probe.
func (s *Service) AddCheck(name string, check Check) {
	if check != nil {
		s.checks[name] = check
	}
}

// AddGauge registers a reported figure such as live jobs or queued tasks.
func (s *Service) AddGauge(name string, gauge Gauge) {
	if gauge != nil {
		s.gauges[name] = gauge
	}
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
	Gauges map[string]int    `json:"gauges,omitempty"`
}

// Status runs every check and reports ok only when all pass.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true}
	if len(s.checks) > 0 {
		report.Checks = make(map[string]string, len(s.checks))
	}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](checkCtx)
		cancel()
		if err != nil {
			report.OK = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	if len(s.gauges) > 0 {
		report.Gauges = make(map[string]int, len(s.gauges))
		for name, gauge := range s.gauges {
			report.Gauges[name] = gauge()
		}
	}
	return report
}
