// Package daemon implements the jeand background service: it owns the
// sqlite store, provisions git worktrees, runs agent turns, and serves
// the control plane over a unix socket.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/agent"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/config"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/control"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/eventlog"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/github"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/logging"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/store"
	"github.com/Rhiz3K/Rhiz3K-jean/internal/worktree"
)

// ShutdownTimeout is how long to wait for in-flight runs to stop.
const ShutdownTimeout = 15 * time.Second

// Daemon is the jeand service.
type Daemon struct {
	config      *config.Config
	store       *store.Store
	server      *control.Server
	provisioner *worktree.Provisioner
	publisher   *worktree.Publisher
	journal     eventlog.Log

	// In-flight chat runs, keyed by session id.
	runs   map[string]*chatRun
	runsMu sync.Mutex

	// newRunner constructs the agent runner for a send. Tests swap it
	// for a scripted runner.
	newRunner func(entity.AgentKind) (agent.Runner, error)

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// New creates a new daemon instance.
func New(cfg *config.Config) (*Daemon, error) {
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Broadcast journal lives next to the main database. Falls back to
	// memory when the file cannot be opened; the journal is diagnostic,
	// never load-bearing.
	var journal eventlog.Log
	journalPath := filepath.Join(filepath.Dir(cfg.Daemon.Database), "events.db")
	journal, err = eventlog.NewSQLite(journalPath)
	if err != nil {
		logging.Warn("event journal unavailable, using memory", "error", err)
		journal = eventlog.NewMemory(1000)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:      cfg,
		store:       st,
		server:      control.NewServer(cfg.Daemon.Socket),
		provisioner: worktree.NewProvisioner(st, cfg.Workspace.WorktreeDir),
		publisher:   worktree.NewPublisher(github.NewAppClient(cfg.GitHub)),
		journal:     journal,
		runs:        make(map[string]*chatRun),
		newRunner:   agent.New,
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	d.registerHandlers()
	return d, nil
}

// Serve starts the control server without installing signal handling.
// Callers that use Serve shut down with Close.
func (d *Daemon) Serve() error {
	return d.server.Start()
}

// Close shuts the daemon down: stops the server, aborts in-flight runs,
// and closes the store.
func (d *Daemon) Close() {
	d.shutdown()
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.server.Start(); err != nil {
		return err
	}
	logging.Info("control server listening", "socket", d.config.Daemon.Socket)

	g, ctx := errgroup.WithContext(d.ctx)
	g.Go(func() error { return d.pruneLoop(ctx) })

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err := d.signalLoop(sigCh)
	if werr := g.Wait(); werr != nil && werr != context.Canceled && err == nil {
		err = werr
	}
	return err
}

// signalLoop handles OS signals for graceful shutdown.
func (d *Daemon) signalLoop(sigCh <-chan os.Signal) error {
	sig := <-sigCh
	logging.Info("received shutdown signal", "signal", sig.String())

	shutdownDone := make(chan struct{})
	go func() {
		d.shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		logging.Info("shutdown complete")
		return nil
	case sig2 := <-sigCh:
		logging.Warn("received second signal, forcing exit", "signal", sig2.String())
		d.cancel()
		return fmt.Errorf("forced shutdown by signal: %s", sig2)
	case <-time.After(ShutdownTimeout):
		logging.Warn("shutdown timeout exceeded, forcing exit")
		d.cancel()
		return fmt.Errorf("shutdown timed out")
	}
}

// shutdown stops accepting work, aborts in-flight runs, and closes the
// store.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		d.server.Stop()
		d.cancel()

		d.runsMu.Lock()
		for sessionID, run := range d.runs {
			logging.Info("stopping in-flight run", "session", sessionID)
			run.stop(false)
		}
		d.runsMu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(ShutdownTimeout):
			logging.Warn("some runs did not stop in time")
		}

		if err := d.store.Close(); err != nil {
			logging.Error("error closing database", "error", err)
		}
		d.journal.Close()
	})
}

// pruneLoop periodically runs git worktree prune per project so stale
// administrative entries from externally deleted directories do not
// block future creations.
func (d *Daemon) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			projects, err := d.store.ListProjects()
			if err != nil {
				continue
			}
			for _, project := range projects {
				if err := d.provisioner.PruneStale(project); err != nil {
					logging.Debug("worktree prune failed", "project", project.Name, "error", err)
				}
			}
		}
	}
}

// broadcast pushes an event to every connected client and journals it.
func (d *Daemon) broadcast(eventType string, payload any) {
	ev := control.NewEvent(eventType, payload)
	d.server.Broadcast(ev)
	if _, err := d.journal.Append(ev.Type, ev.Payload); err != nil {
		logging.Debug("event journal append failed", "type", ev.Type, "error", err)
	}
}
