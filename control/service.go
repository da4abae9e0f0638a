// Package control exposes the daemon's operations over a local HTTP
// and WebSocket API. This file contains the Service, which bundles the
// daemon's subsystems behind the operations the API exposes.
package control

import (
	"context"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/history"
	"github.com/ikesession/ikesessiond/permission"
	"github.com/ikesession/ikesessiond/session"
	"github.com/ikesession/ikesessiond/tun"
)

// Deps holds the subsystems a Service operates on. Manager and Gate
// are required; Monitor and Store are optional and their endpoints
// degrade gracefully without them.
type Deps struct {
	Manager *session.Manager
	Gate    permission.Gate
	Monitor *session.Monitor
	Store   *history.Store
	Version string
}

// Service translates API requests into session operations. It owns no
// state of its own beyond the wiring.
type Service struct {
	manager *session.Manager
	gate    permission.Gate
	monitor *session.Monitor
	store   *history.Store
	version string
}

// NewService wires a Service from its dependencies.
func NewService(deps Deps) *Service {
	return &Service{
		manager: deps.Manager,
		gate:    deps.Gate,
		monitor: deps.Monitor,
		store:   deps.Store,
		version: deps.Version,
	}
}

// Connect runs a full connection attempt and reports the state the
// session settled in. It blocks until the attempt resolves, one way or
// the other.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (StateView, error) {
	cfg := session.Config{
		Server:     req.Server,
		Identifier: req.Identifier,
		PSK:        []byte(req.PSK),
	}
	err := s.manager.Connect(ctx, cfg)
	return stateView(s.manager.State()), err
}

// Disconnect gracefully tears the session down.
func (s *Service) Disconnect(ctx context.Context) (StateView, error) {
	err := s.manager.Disconnect(ctx)
	return stateView(s.manager.State()), err
}

// ForceDisconnect drops the session immediately from any phase.
func (s *Service) ForceDisconnect() (StateView, error) {
	err := s.manager.ForceDisconnect()
	return stateView(s.manager.State()), err
}

// State reports the current session snapshot.
func (s *Service) State() StateView {
	return stateView(s.manager.State())
}

// Status assembles the full daemon snapshot.
func (s *Service) Status() StatusResponse {
	resp := StatusResponse{
		State:       stateView(s.manager.State()),
		Engine:      s.manager.EngineName(),
		Device:      s.manager.DeviceName(),
		Version:     s.version,
		GeneratedAt: rfc3339(timeNow()),
	}
	if since, ok := s.manager.ConnectedSince(); ok {
		resp.UptimeSec = int64(timeNow().Sub(since).Seconds())
	}
	if s.monitor != nil {
		resp.Health = healthView(s.monitor.GetHealth())
	} else {
		resp.Health = HealthView{State: session.HealthUnknown.String()}
	}
	if resp.Device != "" {
		if stats, err := tun.ReadStats(resp.Device); err == nil {
			resp.Stats = &stats
		} else {
			common.LogDebug("control: device stats unavailable: %v", err)
		}
	}
	return resp
}

// CheckPermission passively asks the gate whether a tunnel may be
// established, without prompting the user.
func (s *Service) CheckPermission(ctx context.Context) (PermissionResponse, error) {
	allowed, err := s.gate.Check(ctx)
	if err != nil {
		return PermissionResponse{}, err
	}
	return PermissionResponse{Allowed: allowed, CheckedAt: rfc3339(timeNow())}, nil
}

// History lists recent connection attempts, newest first. The limit is
// clamped to the configured maximum; zero means the default page size.
func (s *Service) History(ctx context.Context, limit int) (HistoryResponse, error) {
	resp := HistoryResponse{Attempts: []Attempt{}}
	if s.store == nil {
		return resp, nil
	}

	if limit <= 0 {
		limit = common.DefaultHistoryLimit
	}
	if limit > common.MaxHistoryLimit {
		limit = common.MaxHistoryLimit
	}
	attempts, err := s.store.List(ctx, limit)
	if err != nil {
		return resp, err
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptView(a))
	}
	return resp, nil
}

// Subscribe registers fn for session phase events.
func (s *Service) Subscribe(fn session.Callback) (unsubscribe func()) {
	return s.manager.Subscribe(fn)
}
