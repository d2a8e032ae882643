// Package session runs one member's participation in a trip: it keeps the
// roster fed from exactly one transport at a time and falls back from MQTT
// to HTTP polling and back as connectivity changes.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"backend-convoyhub/internal/realtime"
	"backend-convoyhub/internal/roster"
	"backend-convoyhub/internal/shared/geo"
	"backend-convoyhub/internal/shared/presence"
	"backend-convoyhub/internal/tracking"
)

const (
	DefaultPollInterval      = 10 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	teardownTimeout          = time.Second
)

// Transport is the real-time channel. *realtime.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context, onLost func(error)) error
	Subscribe(ctx context.Context, tripCode string, fn func(realtime.LocationMessage)) error
	Unsubscribe(ctx context.Context, tripCode string) error
	Publish(ctx context.Context, tripCode string, msg realtime.LocationMessage) error
	Close()
}

// Poller is the HTTP fallback. *apiclient.Client satisfies it.
type Poller interface {
	Locations(ctx context.Context, tripCode string) ([]tracking.Location, error)
	UpdateLocation(ctx context.Context, tripCode, memberID string, s geo.Sample, status presence.Status) error
}

type Config struct {
	TripCode          string
	MemberID          string
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	SweepInterval     time.Duration
	// OnStateChange is called from the session loop after every transition.
	OnStateChange func(from, to State)
	Logger        *slog.Logger
}

type Session struct {
	cfg       Config
	transport Transport
	poller    Poller
	roster    *roster.Roster
	log       *slog.Logger

	events    chan Event
	leave     chan struct{}
	leaveOnce sync.Once
	done      chan struct{}

	mu    sync.RWMutex
	state State
}

func New(cfg Config, t Transport, p Poller, r *roster.Roster) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = roster.SweepInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		transport: t,
		poller:    p,
		roster:    r,
		log:       log.With("component", "session", "trip", cfg.TripCode, "member", cfg.MemberID),
		events:    make(chan Event, 8),
		leave:     make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateConnecting,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Mode() Mode { return s.State().Mode() }

func (s *Session) Roster() *roster.Roster { return s.roster }

// Done is closed once Run has released every resource.
func (s *Session) Done() <-chan struct{} { return s.done }

// Leave ends the session. Run returns after teardown completes.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() { close(s.leave) })
}

// Offline reports that the device lost data connectivity.
func (s *Session) Offline() { s.emit(EventOffline) }

// Run drives the session until Leave is called or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.leave:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.roster.RunSweeper(ctx, s.cfg.SweepInterval, func(ids []string) {
			s.log.Info("members lost", "members", ids)
		})
	}()

	l := &loop{s: s}
	l.handle(ctx, s.connect(ctx))
	for {
		select {
		case <-ctx.Done():
			l.teardown()
			wg.Wait()
			return nil
		case ev := <-s.events:
			l.handle(ctx, ev)
		case <-l.pollC():
			s.poll(ctx)
		case <-l.reconnectC():
			l.handle(ctx, s.connect(ctx))
		}
	}
}

// Publish records a local GPS sample and sends it over whichever transport
// the session currently uses. Transport failures are absorbed. A sample
// without a device time is stamped with the local clock.
func (s *Session) Publish(ctx context.Context, sample geo.Sample) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	state := s.State()
	status := presence.Bridged
	if state == StateConnected || state == StateDegraded {
		status = presence.Online
	}
	s.roster.SetSelf(sample, status)

	switch state {
	case StateConnected:
		msg := realtime.LocationMessage{
			MemberID:  s.cfg.MemberID,
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			Heading:   sample.Heading,
			Speed:     sample.Speed,
			Timestamp: sample.At.UnixMilli(),
			Status:    presence.Online,
		}
		if err := s.transport.Publish(ctx, s.cfg.TripCode, msg); err != nil {
			s.log.Warn("publish failed", "error", err)
			s.emit(EventConnectionLost)
		}
	case StateDegraded:
		if err := s.poller.UpdateLocation(ctx, s.cfg.TripCode, s.cfg.MemberID, sample, presence.Online); err != nil {
			s.log.Warn("location update failed", "error", err)
		}
	}
}

func (s *Session) connect(ctx context.Context) Event {
	err := s.transport.Connect(ctx, func(err error) { s.emit(EventConnectionLost) })
	if err != nil {
		s.log.Warn("real-time connect failed", "error", err)
		return EventConnectFailed
	}
	return EventConnectSucceeded
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.log.Warn("event dropped", "event", ev)
	}
}

func (s *Session) onMessage(msg realtime.LocationMessage) {
	if s.State() != StateConnected {
		return
	}
	s.roster.UpdatePeer(roster.Entry{
		MemberID:  msg.MemberID,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Heading:   msg.Heading,
		Speed:     msg.Speed,
		Status:    msg.Status,
		SampledAt: msg.SampledAt(),
	})
}

func (s *Session) poll(ctx context.Context) {
	locs, err := s.poller.Locations(ctx, s.cfg.TripCode)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("poll failed", "error", err)
		}
		return
	}
	for _, l := range locs {
		if l.MemberID == s.cfg.MemberID {
			continue
		}
		s.roster.UpdatePeer(roster.Entry{
			MemberID:  l.MemberID,
			Latitude:  l.Latitude,
			Longitude: l.Longitude,
			Heading:   l.Heading,
			Speed:     l.Speed,
			Status:    l.Status,
			SampledAt: l.SampleTime(),
		})
	}
}

func (s *Session) setState(next State) State {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	return prev
}

// loop holds the resources owned by the Run goroutine.
type loop struct {
	s         *Session
	poll      *time.Ticker
	reconnect *time.Ticker
}

func (l *loop) pollC() <-chan time.Time {
	if l.poll == nil {
		return nil
	}
	return l.poll.C
}

func (l *loop) reconnectC() <-chan time.Time {
	if l.reconnect == nil {
		return nil
	}
	return l.reconnect.C
}

func (l *loop) handle(ctx context.Context, ev Event) {
	s := l.s
	prev := s.State()
	next := Transition(prev, ev)
	if next == prev {
		return
	}
	s.setState(next)
	s.log.Info("transport state changed", "from", prev, "to", next, "event", ev, "mode", next.Mode())

	switch next {
	case StateConnected:
		l.stopTickers()
		if err := s.transport.Subscribe(ctx, s.cfg.TripCode, s.onMessage); err != nil {
			s.log.Warn("subscribe failed", "error", err)
			s.emit(EventConnectionLost)
		}
	case StateDegraded:
		if prev == StateConnected {
			uctx, cancel := context.WithTimeout(ctx, teardownTimeout)
			_ = s.transport.Unsubscribe(uctx, s.cfg.TripCode)
			cancel()
		}
		s.poll(ctx)
		l.poll = time.NewTicker(s.cfg.PollInterval)
		l.reconnect = time.NewTicker(s.cfg.ReconnectInterval)
	}

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(prev, next)
	}
}

func (l *loop) stopTickers() {
	if l.poll != nil {
		l.poll.Stop()
		l.poll = nil
	}
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
}

func (l *loop) teardown() {
	s := l.s
	l.stopTickers()
	if s.State() == StateConnected {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		_ = s.transport.Unsubscribe(ctx, s.cfg.TripCode)
		cancel()
	}
	s.transport.Close()
	prev := s.setState(StateClosed)
	s.log.Info("session closed")
	if s.cfg.OnStateChange != nil && prev != StateClosed {
		s.cfg.OnStateChange(prev, StateClosed)
	}
}
