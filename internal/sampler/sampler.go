// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sustainable-computing-io/smaragdine/internal/accounting"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
	"github.com/sustainable-computing-io/smaragdine/internal/device"
	"github.com/sustainable-computing-io/smaragdine/internal/service"
	"k8s.io/utils/clock"
)

var (
	// ErrSessionActive is returned when an operation conflicts with a running session
	ErrSessionActive = errors.New("sampling session in progress")

	// ErrNoSession is returned when reading before any session was started
	ErrNoSession = errors.New("no sampling session")

	// ErrInvalidPid is returned when the process to monitor does not exist
	ErrInvalidPid = errors.New("invalid pid")
)

// State of the sampling session
type State int

const (
	Idle State = iota
	Sampling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status describes the current session
type Status struct {
	State   State
	Pid     int
	Period  time.Duration
	Samples int
}

// Stats are cumulative counters over the lifetime of the sampler
type Stats struct {
	State       State
	Sessions    uint64
	Samples     uint64
	MeterErrors map[string]uint64
}

// Sampler collects power samples of every meter while one process runs,
// along with the CPU time counters of the host and of the threads of the
// process. Only one session exists at a time; its data can be read once it
// stopped.
type Sampler struct {
	logger *slog.Logger
	clock  clock.WithTicker
	procfs string
	period time.Duration
	meters []device.Meter

	// set by Init
	activity activityReader
	ready    []device.Meter

	mu      sync.Mutex
	state   State
	pid     int
	current time.Duration
	samples []accounting.Sample
	cpus    []dataset.CPUSample
	tasks   []dataset.TaskSample
	cancel  context.CancelFunc
	done    chan struct{}

	sessions    uint64
	sampleCount uint64
	meterErrors map[string]uint64
}

// session is owned by the goroutine collecting it
type session struct {
	pid    int
	meters []device.Meter
	cpus   bool // /proc/stat is still read
	last   accounting.Timestamp
	read   bool
}

// batch is the data read at one instant
type batch struct {
	samples []accounting.Sample
	cpus    []dataset.CPUSample
	tasks   []dataset.TaskSample
	failed  []string
}

var (
	_ service.Initializer = (*Sampler)(nil)
	_ service.Runner      = (*Sampler)(nil)
	_ service.Shutdowner  = (*Sampler)(nil)
)

type Opts struct {
	logger *slog.Logger
	clock  clock.WithTicker
	procfs string
	period time.Duration
	meters []device.Meter
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		clock:  clock.RealClock{},
		procfs: "/proc",
		period: 4 * time.Millisecond,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Sampler
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock driving the collection ticks and timestamps
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithProcFSPath sets the procfs mount read for the monitored process and
// the CPU times
func WithProcFSPath(procfs string) OptionFn {
	return func(o *Opts) {
		o.procfs = procfs
	}
}

// WithPeriod sets the period used when Start is given none
func WithPeriod(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.period = d
	}
}

// WithMeters sets the power meters to sample
func WithMeters(meters ...device.Meter) OptionFn {
	return func(o *Opts) {
		o.meters = meters
	}
}

// NewSampler creates a new Sampler
func NewSampler(applyOpts ...OptionFn) *Sampler {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Sampler{
		logger:      opts.logger.With("service", "sampler"),
		clock:       opts.clock,
		procfs:      opts.procfs,
		period:      opts.period,
		meters:      opts.meters,
		meterErrors: map[string]uint64{},
	}
}

func (s *Sampler) Name() string {
	return "sampler"
}

// Init opens procfs and initializes the meters. Meters that fail are logged
// and skipped; at least one meter must be usable.
func (s *Sampler) Init() error {
	if s.period <= 0 {
		return fmt.Errorf("invalid sampling period %s", s.period)
	}
	reader, err := newProcFSReader(s.procfs)
	if err != nil {
		return fmt.Errorf("failed to open procfs %s: %w", s.procfs, err)
	}

	ready := make([]device.Meter, 0, len(s.meters))
	for _, m := range s.meters {
		if err := m.Init(); err != nil {
			s.logger.Warn("skipping power meter", "meter", m.Name(), "error", err)
			continue
		}
		s.logger.Info("power meter ready", "meter", m.Name())
		ready = append(ready, m)
	}
	if len(ready) == 0 {
		return fmt.Errorf("no usable power meter")
	}
	s.mu.Lock()
	s.activity = reader
	s.ready = ready
	s.mu.Unlock()
	return nil
}

// Ready returns an error until the sampler has a usable power meter
func (s *Sampler) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return fmt.Errorf("no usable power meter")
	}
	return nil
}

// Run blocks until ctx is done
func (s *Sampler) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Shutdown stops a running session and releases the meters
func (s *Sampler) Shutdown() error {
	if err := s.Stop(); err != nil {
		return err
	}

	var errs error
	for _, m := range s.ready {
		if err := m.Shutdown(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to shutdown meter %s: %w", m.Name(), err))
		}
	}
	return errs
}

// Start begins sampling every period while pid is alive. Data of the
// previous session is discarded. A non-positive period uses the default.
//
// Meters are read once at the start and their readings dropped, so meters
// reporting the mean power since their previous read cover one period with
// their first sample. CPU times are recorded from the start.
func (s *Sampler) Start(pid int, period time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Sampling {
		return ErrSessionActive
	}
	if len(s.ready) == 0 {
		return fmt.Errorf("sampler not initialized")
	}
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPid, pid)
	}
	if err := s.activity.Alive(pid); err != nil {
		return fmt.Errorf("%w: %d: %w", ErrInvalidPid, pid, err)
	}
	if period <= 0 {
		period = s.period
	}

	s.state = Sampling
	s.pid = pid
	s.current = period
	s.samples, s.cpus, s.tasks = nil, nil, nil
	s.sessions++

	sess := &session{pid: pid, meters: slices.Clone(s.ready), cpus: true}
	s.store(s.read(sess, false))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("start sampling", "pid", pid, "period", period)
	go s.collect(ctx, sess, period, s.done)
	return nil
}

// Stop ends the running session and waits until its last sample is stored.
// Stopping without a running session is a no-op.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if s.state != Sampling {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("stopped sampling")
	return nil
}

// Read returns a copy of the data of the last session once it stopped
func (s *Sampler) Read() (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		return dataset.Dataset{}, ErrNoSession
	case Sampling:
		return dataset.Dataset{}, ErrSessionActive
	}
	return dataset.Dataset{
		Samples: slices.Clone(s.samples),
		CPU:     slices.Clone(s.cpus),
		Tasks:   slices.Clone(s.tasks),
	}, nil
}

// Status returns the state of the current session
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:   s.state,
		Pid:     s.pid,
		Period:  s.current,
		Samples: len(s.samples),
	}
}

// Stats returns the counters of the sampler
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	meterErrors := make(map[string]uint64, len(s.ready))
	for _, m := range s.ready {
		meterErrors[m.Name()] = s.meterErrors[m.Name()]
	}
	return Stats{
		State:       s.state,
		Sessions:    s.sessions,
		Samples:     s.sampleCount,
		MeterErrors: meterErrors,
	}
}

func (s *Sampler) collect(ctx context.Context, sess *session, period time.Duration, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		close(done)
	}()

	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for len(sess.meters) > 0 {
		select {
		case <-ctx.Done():
			// close the series at the time of the stop
			s.sample(sess)
			return

		case <-ticker.C():
			if err := s.activity.Alive(sess.pid); err != nil {
				s.logger.Info("monitored process exited; stopping", "pid", sess.pid)
				return
			}
			s.sample(sess)
		}
	}
	s.logger.Error("all power meters failed; stopping", "pid", sess.pid)
}

func (s *Sampler) sample(sess *session) {
	b := s.read(sess, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(b)
}

// store appends b to the session data; callers hold s.mu
func (s *Sampler) store(b batch) {
	s.samples = append(s.samples, b.samples...)
	s.cpus = append(s.cpus, b.cpus...)
	s.tasks = append(s.tasks, b.tasks...)
	s.sampleCount += uint64(len(b.samples))
	for _, name := range b.failed {
		s.meterErrors[name]++
	}
}

// read reads every meter and the CPU times once. Meters that are unavailable
// are dropped from the session. Power readings are kept only with keepPower.
// Nothing is read twice at the same timestamp.
func (s *Sampler) read(sess *session, keepPower bool) batch {
	ts := accounting.TimestampOf(s.clock.Now())
	if sess.read && ts == sess.last {
		return batch{}
	}
	sess.read, sess.last = true, ts

	var b batch
	usable := sess.meters[:0]
	for _, m := range sess.meters {
		readings, err := m.Read()
		if err != nil {
			b.failed = append(b.failed, m.Name())
			if errors.Is(err, device.ErrUnavailable) {
				s.logger.Error("power meter unavailable; dropping it from the session", "meter", m.Name(), "error", err)
				continue
			}
			s.logger.Warn("failed to read power meter", "meter", m.Name(), "error", err)
			usable = append(usable, m)
			continue
		}
		usable = append(usable, m)
		if !keepPower {
			continue
		}
		for _, r := range readings {
			b.samples = append(b.samples, accounting.Sample{
				Source:    r.Source,
				Timestamp: ts,
				Power:     r.Power.Watts(),
			})
		}
	}
	sess.meters = usable

	s.readActivity(sess, ts, &b)
	return b
}

func (s *Sampler) readActivity(sess *session, ts accounting.Timestamp, b *batch) {
	if sess.cpus {
		cpus, err := s.activity.CPUs()
		switch {
		case err == nil:
			for _, c := range cpus {
				c.Timestamp = ts
				b.cpus = append(b.cpus, c)
			}
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			s.logger.Warn("cpu times unavailable; not reading them in this session", "error", err)
			sess.cpus = false
		default:
			s.logger.Warn("failed to read cpu times", "error", err)
		}
	}

	tasks, err := s.activity.Tasks(sess.pid)
	if err != nil {
		s.logger.Debug("failed to read task times", "pid", sess.pid, "error", err)
		return
	}
	for _, t := range tasks {
		t.Timestamp = ts
		b.tasks = append(b.tasks, t)
	}
}
