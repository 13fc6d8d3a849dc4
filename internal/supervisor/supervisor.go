package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/coordinator"
	"github.com/ai4all/worker/internal/executor"
	"github.com/ai4all/worker/internal/group"
	"github.com/ai4all/worker/internal/httppoll"
	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/peer"
	"github.com/ai4all/worker/internal/task"
)

// Config wires every subsystem's already-constructed config/dependency
// into the Supervisor. Supervisor itself does no file/env reading; that
// belongs to cmd/worker/main.go and internal/config.
type Config struct {
	IdentityID string

	Tracker  *task.Tracker
	Registry *backend.Registry
	Executor *executor.Executor
	Mesh     *peer.Mesh
	Peers    *peer.Registry
	Groups   *group.Manager

	Session *coordinator.Session // nil if no coordinator configured
	Poller  *httppoll.Poller     // nil if HTTP polling disabled

	HeartbeatInterval time.Duration
	PeerPruneInterval time.Duration
	PeerStaleTimeout  time.Duration
	CleanupInterval   time.Duration
	TaskRetention     time.Duration

	DebugAddr string // "" disables the debug HTTP server
}

// Supervisor is the worker's top-level event loop. It reads task.Results
// from the Executor and routes them to whichever origin issued the
// assignment, reads inbound coordinator/peer messages and dispatches new
// assignments, and runs periodic maintenance (heartbeats, stale-peer
// pruning, tracker cleanup).
type Supervisor struct {
	cfg Config

	identityID string
	tracker    *task.Tracker
	registry   *backend.Registry
	exec       *executor.Executor
	mesh       *peer.Mesh
	peers      *peer.Registry
	groups     *group.Manager
	session    *coordinator.Session
	poller     *httppoll.Poller

	metrics   *Metrics
	log       *logging.Logger
	startedAt time.Time

	debugServer *http.Server
}

// New builds a Supervisor from cfg. startedAt is captured here so uptime
// reporting is stable across reconnects.
func New(cfg Config, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.PeerPruneInterval <= 0 {
		cfg.PeerPruneInterval = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = 30 * time.Minute
	}
	if cfg.PeerStaleTimeout <= 0 {
		cfg.PeerStaleTimeout = 5 * time.Minute
	}

	s := &Supervisor{
		cfg:        cfg,
		identityID: cfg.IdentityID,
		tracker:    cfg.Tracker,
		registry:   cfg.Registry,
		exec:       cfg.Executor,
		mesh:       cfg.Mesh,
		peers:      cfg.Peers,
		groups:     cfg.Groups,
		session:    cfg.Session,
		poller:     cfg.Poller,
		metrics:    NewMetrics(),
		log:        log.WithComponent("supervisor"),
		startedAt:  time.Now(),
	}

	if cfg.DebugAddr != "" {
		s.debugServer = &http.Server{Addr: cfg.DebugAddr, Handler: s.newDebugRouter()}
	}
	return s
}

// Run starts every subsystem goroutine and the main event loop, returning
// when ctx is cancelled or an unrecoverable subsystem error occurs. Errors
// from subsystems are aggregated with hashicorp/go-multierror rather than
// the first one short-circuiting the others' shutdown, across goroutines
// started with golang.org/x/sync/errgroup.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.session != nil {
		g.Go(func() error {
			s.session.Run(gctx)
			select {
			case err := <-s.session.Fatal():
				return err
			default:
				return nil
			}
		})
	}

	if s.poller != nil {
		g.Go(func() error {
			s.poller.Register(gctx)
			s.poller.Run(gctx, s.handlePolledTasks)
			return nil
		})
	}

	if s.debugServer != nil {
		g.Go(func() error {
			if err := s.debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		s.eventLoop(gctx)
		return nil
	})

	err := g.Wait()
	return s.shutdown(err)
}

func (s *Supervisor) shutdown(runErr error) error {
	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}

	if s.session != nil {
		s.session.Stop()
	}
	if s.exec != nil {
		s.exec.Shutdown()
	}
	if s.mesh != nil {
		s.mesh.Close()
	}
	if s.debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.debugServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (s *Supervisor) eventLoop(ctx context.Context) {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	peerPrune := time.NewTicker(s.cfg.PeerPruneInterval)
	defer peerPrune.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()

	var sessionInbound <-chan coordinator.Envelope
	if s.session != nil {
		sessionInbound = s.session.Inbound()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case result, ok := <-s.exec.Results():
			if !ok {
				return
			}
			s.handleResult(result)

		case env, ok := <-sessionInbound:
			if !ok {
				sessionInbound = nil
				continue
			}
			s.handleCoordinatorEnvelope(ctx, env)

		case in := <-s.mesh.Inbound():
			s.handlePeerMessage(ctx, in)

		case <-heartbeat.C:
			s.sendHeartbeat()

		case <-peerPrune.C:
			removed := s.peers.PruneStale(s.cfg.PeerStaleTimeout)
			if removed > 0 {
				s.log.Debug("pruned stale peers", map[string]interface{}{"count": removed})
			}

		case <-cleanup.C:
			s.tracker.CleanupOld(s.cfg.TaskRetention)
		}
	}
}

func (s *Supervisor) handleResult(r task.Result) {
	switch r.Err {
	case nil:
		s.metrics.TasksCompleted.Inc()
	default:
		s.metrics.TasksFailed.Inc()
	}

	at, ok := s.tracker.Get(r.AssignmentID)
	if !ok {
		return
	}

	switch at.Assignment.Origin.Kind {
	case task.OriginCoordinatorStream:
		s.reportToCoordinator(r)
	case task.OriginHTTPPolled:
		s.reportToPoller(r)
	case task.OriginPeer:
		s.reportToPeer(at.Assignment.Origin.PeerWorkerID, r)
	}
}

func (s *Supervisor) reportToCoordinator(r task.Result) {
	if s.session == nil {
		return
	}
	payload := coordinator.TaskResultPayload{TaskID: r.AssignmentID}
	if r.Err != nil {
		payload.Error = &coordinator.ResultError{Code: "E502", Message: r.Err.Error()}
	} else if r.Output != nil {
		body, err := json.Marshal(r.Output)
		if err == nil {
			payload.Output = body
		}
	}
	if err := s.session.SendTaskResult(payload); err != nil {
		s.log.Warn("failed to report task result to coordinator", map[string]interface{}{"task_id": r.AssignmentID, "error": err.Error()})
	}
}

func (s *Supervisor) reportToPoller(r task.Result) {
	if s.poller == nil {
		return
	}
	sub := httppoll.ResultSubmission{
		TaskID:          r.AssignmentID,
		ExecutionTimeMs: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	if r.Err != nil {
		sub.Error = &httppoll.SubmissionError{Code: "E502", Message: r.Err.Error()}
		sub.FinishReason = string(backend.FinishError)
	} else if out, ok := r.Output.(backend.TextCompletionOutput); ok {
		sub.Output = out.Text
		sub.FinishReason = string(out.FinishReason)
		sub.TokenUsage = &httppoll.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	} else if r.Output != nil {
		body, err := json.Marshal(r.Output)
		if err == nil {
			sub.Output = string(body)
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.poller.SubmitResult(ctx, sub); err != nil {
			s.log.Warn("failed to submit polled task result", map[string]interface{}{"task_id": r.AssignmentID, "error": err.Error()})
		}
	}()
}

func (s *Supervisor) reportToPeer(peerWorkerID string, r task.Result) {
	fwd := peer.TaskResultForwardPayload{TaskID: r.AssignmentID}
	if r.Err != nil {
		fwd.Error = r.Err.Error()
	} else if r.Output != nil {
		body, err := json.Marshal(r.Output)
		if err == nil {
			fwd.Output = body
		}
	}
	body, err := json.Marshal(fwd)
	if err != nil {
		return
	}
	if err := s.mesh.Send(peer.ID(peerWorkerID), peer.Message{Type: peer.TypeTaskResultForward, From: s.identityID, Payload: body}); err != nil {
		s.log.Warn("failed to forward task result to peer", map[string]interface{}{"task_id": r.AssignmentID, "error": err.Error()})
	}
}

func (s *Supervisor) sendHeartbeat() {
	s.metrics.TasksQueued.Set(float64(s.tracker.Snapshot().Queued))
	s.metrics.TasksRunning.Set(float64(s.tracker.Snapshot().Running))
	s.metrics.PeersConnected.Set(float64(s.mesh.ConnectionCount()))

	if s.session == nil {
		return
	}
	if err := s.session.SendHeartbeat(s.tracker.ActiveIDs(), s.tracker.Snapshot().Queued, time.Since(s.startedAt)); err != nil {
		s.log.Warn("failed to send heartbeat", map[string]interface{}{"error": err.Error()})
	}
}
