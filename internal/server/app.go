// Package server wires the storage backends, services and network endpoints
// together and runs them until the process is asked to stop.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/config"
	"github.com/Fides-Storage/Server-sub000/internal/server/listener"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/repomanager"
	"github.com/Fides-Storage/Server-sub000/internal/server/services"
	"github.com/Fides-Storage/Server-sub000/internal/server/session"
	"github.com/Fides-Storage/Server-sub000/internal/server/sweeper"

	gs "github.com/Fides-Storage/Server-sub000/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repos       repomanager.RepositoryManager
	blobs       blobstore.Store
	userService *services.UserService
	fileService *services.FileService
	tlsConfig   *tls.Config
}

// logOutput is where the application logger writes.
var logOutput io.Writer = os.Stdout

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.NewJSONLogger(logOutput, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	var tlsConfig *tls.Config
	if !c.Insecure {
		tlsConfig, err = listener.LoadTLSConfig(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, err
		}
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	repos, err := newRepositoryManager(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("ledger init error: %w", err)
	}

	if err := repos.RunMigrations(ctx); err != nil {
		repos.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	// locks left by a previous process belong to sessions that no longer exist
	if err := repos.Locker().ClearAll(ctx); err != nil {
		repos.Close()
		return nil, fmt.Errorf("lock reset error: %w", err)
	}

	us := services.NewUserService(repos.Ledger(), repos.Locker(), blobs, c)
	fs := services.NewFileService(repos.Ledger(), blobs, logger)

	return &App{
		config:      c,
		logger:      logger,
		repos:       repos,
		blobs:       blobs,
		userService: us,
		fileService: fs,
		tlsConfig:   tlsConfig,
	}, nil
}

func newBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	switch c.BlobBackend {
	case config.BackendS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			StagingDir:   filepath.Join(c.StorageRoot, "staging"),
			ChunkSize:    int(c.ChunkSize),
		})
	case config.BackendDisk:
		return blobstore.NewDiskStore(c.StorageRoot, int(c.ChunkSize))
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

func newRepositoryManager(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.LedgerBackend {
	case config.BackendPostgres:
		return repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	case config.BackendDisk:
		return repomanager.NewDiskRepositoryManager(c.StorageRoot)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startListener(ctx context.Context, cancelFunc context.CancelFunc, health *gs.GRPCServer) {
	l := listener.New(app.config.ListenAddr, app.tlsConfig, app.userService, app.fileService, app.logger, session.Options{
		MaxFrameSize: app.config.MaxFrameSize,
		IdleTimeout:  app.config.IdleTimeout,
	})
	l.OnServing(health.SetServing)

	if err := l.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc, s *gs.GRPCServer) {
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startSweeper(ctx context.Context) {
	sw := sweeper.New(app.repos.Ledger(), app.repos.Locker(), app.blobs, app.logger, app.config.ExpiryHorizon, app.config.SweepInterval)
	_ = sw.Run(ctx)
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// waits for every component to stop and closes the storage backends.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	health := gs.NewGRPCServer(app.config.HealthAddrGRPC, app.logger)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc, health)
	}()
	go func() {
		defer wg.Done()
		app.startListener(ctx, cancelFunc, health)
	}()
	go func() {
		defer wg.Done()
		app.startSweeper(ctx)
	}()

	wg.Wait()

	app.logger.Info(context.WithoutCancel(ctx), "Stopped")

	return app.Close()
}

// Close releases the storage backends.
func (app *App) Close() error {
	return app.repos.Close()
}
