// Package haulsync is the offline-first trip client for MINEX field
// operations. It records truck trips between the mine and the processing
// plant, persists unconfirmed intent in a durable local queue, and
// reconciles it against the remote trip API whenever connectivity allows.
//
// UI layers construct one Client via Open, subscribe to the trip store for
// re-renders, and call the foreground operations (StartFromScan, Complete,
// CloseInField, Refresh). Everything network- and storage-related lives
// behind this facade; screens never import the internal packages.
package haulsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/minex/haulsync/internal/api"
	"github.com/minex/haulsync/internal/config"
	"github.com/minex/haulsync/internal/credentials"
	"github.com/minex/haulsync/internal/domain"
	"github.com/minex/haulsync/internal/local"
	"github.com/minex/haulsync/internal/netwatch"
	"github.com/minex/haulsync/internal/queue"
	"github.com/minex/haulsync/internal/store"
	"github.com/minex/haulsync/internal/syncer"
	"github.com/minex/haulsync/internal/trips"
)

// Re-exported types so consumers never import internal packages.
type (
	Config      = config.Config
	Trip        = domain.Trip
	Status      = domain.Status
	User        = domain.User
	Role        = domain.Role
	ScanPayload = trips.ScanPayload
	Result      = trips.Result
	Outcome     = trips.Outcome
)

// Trip lifecycle states.
const (
	StatusOpen           = domain.StatusOpen
	StatusClosedField    = domain.StatusClosedField
	StatusCompletedPlant = domain.StatusCompletedPlant
	StatusAdjusted       = domain.StatusAdjusted
)

// Operation outcomes for UI messaging.
const (
	OutcomeStarted          = trips.OutcomeStarted
	OutcomeQueuedOffline    = trips.OutcomeQueuedOffline
	OutcomeAlreadyOpen      = trips.OutcomeAlreadyOpen
	OutcomeCompleted        = trips.OutcomeCompleted
	OutcomeCompletedOffline = trips.OutcomeCompletedOffline
	OutcomeAlreadyCompleted = trips.OutcomeAlreadyCompleted
	OutcomeClosed           = trips.OutcomeClosed
	OutcomeAlreadyClosed    = trips.OutcomeAlreadyClosed
)

// Error sentinels; match with errors.Is.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrValidation   = domain.ErrValidation
	ErrConflict     = domain.ErrConflict
	ErrUnauthorized = domain.ErrUnauthorized
)

// LoadConfig reads the client configuration from environment variables.
func LoadConfig() (Config, error) {
	return config.Load()
}

// ParseScan decodes raw QR data into a ScanPayload.
func ParseScan(data string) (ScanPayload, error) {
	return trips.ParseScan(data)
}

// Client is the wired-up HaulSync client. One instance per app session.
type Client struct {
	cfg     Config
	log     *slog.Logger
	db      *sql.DB
	creds   credentials.Store
	api     *api.Client
	store   *store.TripStore
	engine  *syncer.Engine
	service *trips.Service

	stopWatch context.CancelFunc
}

// Open wires the full client: local database (queue + credentials),
// resilient API client, trip store, sync engine, and connectivity watcher.
// It kicks one sync pass immediately (the app-start trigger) and another on
// every offline-to-online transition.
//
// Pass a nil logger to build a JSON slog logger from cfg.LogLevel.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = newLogger(cfg.LogLevel)
	}

	db, err := local.Open(ctx, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("haulsync.Open: %w", err)
	}

	creds := credentials.New(db)
	q := queue.New(db)
	apiClient := api.New(cfg.APIBaseURL, cfg.HTTPTimeout, creds, cfg.SiteLocation(), log)
	tripStore := store.New()
	locks := syncer.NewTokenLocks()
	engine := syncer.New(q, tripStore, apiClient, locks, log)
	service := trips.New(apiClient, q, tripStore, locks, log)

	c := &Client{
		cfg:     cfg,
		log:     log,
		db:      db,
		creds:   creds,
		api:     apiClient,
		store:   tripStore,
		engine:  engine,
		service: service,
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	watcher := netwatch.New(apiClient, cfg.ProbeInterval, func() { engine.Sync(watchCtx) }, log)
	go watcher.Run(watchCtx)

	go engine.Sync(watchCtx) // app-start trigger

	log.Info("haulsync client opened", "api", cfg.APIBaseURL, "data_dir", cfg.DataDir)
	return c, nil
}

// Close stops the connectivity watcher and closes the local database.
func (c *Client) Close() error {
	c.stopWatch()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("haulsync.Client.Close: %w", err)
	}
	return nil
}

// Login authenticates and persists the session.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	return c.api.Login(ctx, email, password)
}

// Logout clears the stored credentials and resets all trip state.
func (c *Client) Logout(ctx context.Context) error {
	c.store.Reset()
	return c.api.Logout(ctx)
}

// CurrentUser returns the cached user identity, or ErrNotFound when nobody
// is logged in.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	return c.creds.User(ctx)
}

// StartFromScan opens a trip from an operator's QR scan.
func (c *Client) StartFromScan(ctx context.Context, scan ScanPayload) (Result, error) {
	return c.service.StartFromScan(ctx, scan)
}

// Complete records the weighed tonnage for a trip.
func (c *Client) Complete(ctx context.Context, tripToken string, weightKg float64) (Result, error) {
	return c.service.Complete(ctx, tripToken, weightKg)
}

// CloseInField closes an open trip without a weighing.
func (c *Client) CloseInField(ctx context.Context, tripToken string) (Result, error) {
	return c.service.CloseInField(ctx, tripToken)
}

// CheckerPrecheck resolves a trip's freshest state before weight entry.
func (c *Client) CheckerPrecheck(ctx context.Context, tripToken string) (Trip, error) {
	return c.service.CheckerPrecheck(ctx, tripToken)
}

// Refresh reloads today's trips from the server, overlays the offline
// queue, and runs a sync pass (the pull-to-refresh trigger).
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.service.Refresh(ctx); err != nil {
		return err
	}
	c.engine.Sync(ctx)
	return nil
}

// Sync runs one queue-draining pass now. No-op when one is running.
func (c *Client) Sync(ctx context.Context) {
	c.engine.Sync(ctx)
}

// SyncProgress reports whether a sync pass is active and how many queued
// operations remain in it, for UI feedback.
func (c *Client) SyncProgress() (syncing bool, pending int) {
	return c.engine.Progress()
}

// Trips returns every known trip in store order.
func (c *Client) Trips() []Trip {
	return c.store.All()
}

// ActiveTrips returns the open trips.
func (c *Client) ActiveTrips() []Trip {
	return c.store.Active()
}

// TripByToken looks up one trip by (whitespace-tolerant) token.
func (c *Client) TripByToken(token string) (Trip, bool) {
	return c.store.GetByToken(token)
}

// Subscribe registers fn to run after every trip-store mutation.
// The returned function unsubscribes.
func (c *Client) Subscribe(fn func()) (unsubscribe func()) {
	return c.store.Subscribe(fn)
}

// newLogger builds the default JSON logger, mirroring the log level
// handling the backend services use.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
