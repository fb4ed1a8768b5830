package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KaraFM/cache"
	"KaraFM/config"
	"KaraFM/core/controller"
	"KaraFM/core/download"
	"KaraFM/core/library"
	"KaraFM/core/player"
	"KaraFM/core/queue"
	"KaraFM/core/splash"
	"KaraFM/db"
	"KaraFM/logger"
	"KaraFM/model"
	"KaraFM/repository"
	"KaraFM/storage"

	"github.com/gorilla/mux"
)

// Start wires every component together and serves until interrupted.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(getLogLevel()),
		OutputPath: "logs/karafm.log",
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})

	ensureDirExists(cfg.SongDir)
	ensureDirExists(cfg.StreamDir)
	ensureDirExists(cfg.TmpDir)

	// Queue persistence is best effort; the party goes on without Redis.
	var store queue.Store
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, queue will not survive restarts", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		store = cache.NewQueueCache(cache.RedisClient)
	}

	var history repository.HistoryRepository
	if cfg.DBHost != "" {
		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Fatal("failed to connect database", logger.ErrorField(err))
		}
		defer db.CloseGormDB()
		history = repository.NewHistoryRepository()
	}

	var archiver download.Archiver
	if cfg.MinioEndpoint != "" {
		archive, err := storage.NewArchive(cfg)
		if err != nil {
			logger.Fatal("failed to initialize archive storage", logger.ErrorField(err))
		}
		archiver = archive
	}

	lib := library.NewIndex(cfg.SongDir)
	if err := lib.Scan(); err != nil {
		logger.Fatal("failed to scan song library", logger.ErrorField(err))
	}

	q := queue.NewManager(cfg.Policy.QueueLimit, lib, store)
	q.Restore()

	run(cfg, lib, q, player.NewFFmpegTranscoder(cfg.FFmpegPath), history, archiver)
}

func getLogLevel() string {
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		return v
	}
	return "info"
}

func ensureDirExists(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Fatal("failed to create directory",
			logger.String("dir", dir),
			logger.ErrorField(err))
	}
}

func run(cfg *config.Config, lib *library.Index, q *queue.Manager, transcoder player.Transcoder, history repository.HistoryRepository, archiver download.Archiver) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lib.Watch(ctx); err != nil {
		logger.Warn("library watcher unavailable", logger.ErrorField(err))
	}

	// The hub needs a snapshot source before the controller exists; the
	// indirection through ctrl is resolved before any client connects.
	var ctrl *controller.Controller
	hub := splash.NewHub(func() model.NowPlayingState {
		return ctrl.Snapshot()
	})
	sup := player.NewSupervisor(transcoder, hub, cfg.StreamDir, cfg.Policy, cfg.AudioBitrate)
	ctrl = controller.New(q, sup, hub, history)
	q.OnChange(ctrl.Kick)

	coord := download.NewCoordinator(
		download.NewYtdlpFetcher(cfg.YtdlpPath),
		lib,
		func(entry model.QueueEntry, top bool) error {
			pos := queue.Bottom
			if top {
				pos = queue.Top
			}
			return q.Enqueue(entry, pos)
		},
		ctrl.Notify,
		archiver,
		cfg.TmpDir,
		cfg.Policy.DownloadConcurrency,
	)

	go hub.Run()
	go ctrl.Run(ctx)

	apiHandler := NewAPIHandler(cfg, ctrl, q, lib, coord, history)
	router := newRouter(cfg, apiHandler, hub)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", logger.ErrorField(err))
	}
}

func newRouter(cfg *config.Config, h *APIHandler, hub *splash.Hub) *mux.Router {
	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Secret")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/nowplaying", h.NowPlayingHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/queue", h.GetQueueHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/queue", h.EnqueueHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/queue", h.AdminMiddleware(h.ClearQueueHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/queue/random", h.AddRandomHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/queue/{id}", h.RemoveFromQueueHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/queue/{id}/{direction}", h.AdminMiddleware(h.MoveQueueEntryHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/control", h.AdminMiddleware(h.ControlHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/message", h.AdminMiddleware(h.ShowMessageHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/library", h.GetLibraryHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library/rescan", h.AdminMiddleware(h.RescanLibraryHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/downloads", h.RequestDownloadHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/downloads", h.ListDownloadsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/downloads/{id}", h.CancelDownloadHandler).Methods(http.MethodDelete)

	router.HandleFunc("/api/history", h.HistoryHandler).Methods(http.MethodGet)

	router.HandleFunc("/ws/splash", SplashSocketHandler(hub))

	// The splash screen pulls the active transcode output from here.
	router.PathPrefix("/stream/").Handler(
		http.StripPrefix("/stream/", http.FileServer(http.Dir(cfg.StreamDir))))

	return router
}
