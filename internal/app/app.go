package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartpark/internal/clients"
	"smartpark/internal/config"
	"smartpark/internal/db"
	"smartpark/internal/dedup"
	httpserver "smartpark/internal/http"
	"smartpark/internal/http/handlers"
	"smartpark/internal/http/middleware"
	"smartpark/internal/redisstore"
	"smartpark/internal/repository"
	"smartpark/internal/service"
	"smartpark/internal/ws"
)

// App wires parking-service dependencies.
type App struct {
	server      *httpserver.Server
	dedupWindow *dedup.Window
	expirer     *service.ReservationExpirer
	hub         *ws.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	redisClient, err := redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(sqlDB)
	spotRepo := repository.NewSpotRepository(sqlDB)
	reservationRepo := repository.NewReservationRepository(sqlDB)
	pricingRepo := repository.NewPricingRepository(sqlDB)
	locationRepo := repository.NewLocationRepository(sqlDB)

	timeout := cfg.ClientTimeout()
	vehicleClient := clients.NewVehicleClient(cfg.Clients.CustomerURL, cfg.Clients.InternalToken, timeout, logger)
	paymentClient := clients.NewPaymentClient(cfg.Clients.PaymentURL, cfg.Clients.InternalToken, timeout, logger)
	notifyClient := clients.NewNotificationClient(cfg.Clients.EmailURL, timeout, logger)

	activeStore := redisstore.NewStore(redisClient, cfg.ActiveSessionTTL())
	hub := ws.NewHub(logger)

	orchestrator := service.NewParkingSessionsService(
		sessionRepo,
		spotRepo,
		reservationRepo,
		pricingRepo,
		vehicleClient,
		paymentClient,
		notifyClient,
		activeStore,
		hub,
		logger,
	)

	dedupWindow := dedup.NewWindow(cfg.DedupWindow(), cfg.DedupSweepInterval(), logger)
	expirer := service.NewReservationExpirer(reservationRepo, cfg.ReservationSweepInterval(), logger)

	ocrHandler := handlers.NewOCREventsHandler(orchestrator, dedupWindow, logger)
	sessionsHandler := handlers.NewSessionsHandler(orchestrator, sessionRepo, logger)
	occupancyHandler := handlers.NewOccupancyHandler(locationRepo, spotRepo, logger)

	routes := httpserver.Routes{
		OCREntry:       ocrHandler.HandleEntry,
		OCRExit:        ocrHandler.HandleExit,
		SessionsMe:     sessionsHandler.HandleMySessions,
		ActiveSessions: sessionsHandler.HandleActiveSessions,
		PaySession:     sessionsHandler.HandlePaySession,
		Occupancy:      occupancyHandler.Handle,
		WSOccupancy:    hub.HandleSubscribe,
		Health:         handlers.NewHealthHandler(),
		CameraAuth:     middleware.CameraAuth(cfg.Camera.JWTSecret),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		dedupWindow: dedupWindow,
		expirer:     expirer,
		hub:         hub,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the HTTP server and the background sweeps; all stop
// together when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.server.Run(groupCtx) })
	group.Go(func() error { return a.dedupWindow.Run(groupCtx) })
	group.Go(func() error { return a.expirer.Run(groupCtx) })

	return group.Wait()
}

// Close releases resources.
func (a *App) Close() {
	a.hub.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
