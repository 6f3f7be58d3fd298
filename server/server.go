package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"

	"mixfm/cache"
	"mixfm/config"
	"mixfm/core/acquire"
	"mixfm/core/audio"
	"mixfm/core/auth"
	"mixfm/core/mix"
	"mixfm/core/policy"
	"mixfm/core/quota"
	"mixfm/core/staging"
	"mixfm/db"
	"mixfm/logger"
	"mixfm/model"
	"mixfm/repository"
	"mixfm/storage"
)

// Start initializes every subsystem and runs the HTTP server until a
// shutdown signal arrives.
func Start() {
	cfg := config.Load()
	auth.Init(cfg.JWTSecret)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  120 * time.Second, // uploads can be slow
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("failed to initialize MinIO", logger.ErrorField(err))
	}

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("failed to initialize database schema", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect gorm", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.MixRecord{}); err != nil {
		logger.Fatal("failed to migrate mix records", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	stagingStore, err := staging.NewStore(cfg.StagingDir, cfg.CoverArtDir)
	if err != nil {
		logger.Fatal("failed to create staging area", logger.ErrorField(err))
	}

	stop := make(chan struct{})
	limits := policy.NewLimitsTable(cfg.PlanLimitsPath)
	if err := limits.Watch(cfg.PlanLimitsPath, stop); err != nil {
		logger.Warn("plan limits hot reload disabled", logger.ErrorField(err))
	}

	userRepo := repository.NewMySQLUserRepository()
	jingleRepo := repository.NewMySQLJingleRepository()
	mixRepo := repository.NewGormMixRepository(db.GormDB)
	tokenRepo := repository.NewAudiomackTokenRepository()

	oauthCfg := acquire.OAuthConfig{
		ConsumerKey:    cfg.AudiomackConsumerKey,
		ConsumerSecret: cfg.AudiomackConsumerSecret,
		CallbackURL:    cfg.AudiomackCallbackURL,
	}
	acquirers := map[model.SourceKind]acquire.Acquirer{
		model.SourceDirectURL: acquire.NewDirectAcquirer(cfg.DownloadTimeout, cfg.MaxDownloadBytes),
		model.SourceYouTube:   acquire.NewYouTubeAcquirer(cfg.MaxDownloadBytes),
		model.SourceAudiomack: acquire.NewAudiomackAcquirer(oauthCfg, tokenRepo, cfg.DownloadTimeout, cfg.MaxDownloadBytes),
	}
	oauthFlow := acquire.NewOAuthFlow(oauthCfg, tokenRepo)

	extractor := audio.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath)
	compositor := audio.NewCompositor(cfg.FFmpegPath)
	ledger := quota.NewRedisLedger(cache.RedisClient)
	store := storage.NewMinioStore(cfg)

	orchestrator := mix.NewOrchestrator(
		acquirers, stagingStore, extractor, compositor,
		ledger, store, mixRepo, jingleRepo, limits,
		mix.Options{
			Bitrate:         cfg.AudioBitrate,
			ComposeTimeout:  cfg.ComposeTimeout,
			DownloadTimeout: cfg.DownloadTimeout,
			EphemeralTTL:    cfg.EphemeralTTL,
			PublicBaseURL:   cfg.PublicBaseURL,
		},
	)

	reaper := mix.NewReaper(mixRepo, stagingStore, cfg.ReaperInterval, time.Hour)
	go reaper.Run(stop)

	apiHandler := NewAPIHandler(
		userRepo, jingleRepo, mixRepo,
		orchestrator, oauthFlow, extractor,
		stagingStore, store, ledger, limits, cfg,
	)

	// SkipClean + UseEncodedPath keep mux from rewriting hostile paths into
	// a redirect: encoded traversal tokens must reach TempFileHandler so the
	// staging containment check is what rejects them.
	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.Use(corsMiddleware)

	// Account endpoints
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Mix pipeline endpoints
	router.HandleFunc("/api/mix", apiHandler.AuthMiddleware(apiHandler.CreateMixHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/mix", apiHandler.AuthMiddleware(apiHandler.ListMixesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/mix/{id}", apiHandler.AuthMiddleware(apiHandler.GetMixHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/quota", apiHandler.AuthMiddleware(apiHandler.QuotaHandler)).Methods(http.MethodGet)

	// Staging uploads
	router.HandleFunc("/api/upload/audio", apiHandler.AuthMiddleware(apiHandler.UploadAudioHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/upload/cover", apiHandler.AuthMiddleware(apiHandler.UploadCoverHandler)).Methods(http.MethodPost)

	// Jingle library
	router.HandleFunc("/api/jingles", apiHandler.AuthMiddleware(apiHandler.UploadJingleHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/jingles", apiHandler.AuthMiddleware(apiHandler.ListJinglesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/jingles/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteJingleHandler)).Methods(http.MethodDelete)

	// Audiomack account linking
	router.HandleFunc("/api/audiomack/connect", apiHandler.AuthMiddleware(apiHandler.ConnectAudiomackHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/audiomack/callback", apiHandler.AudiomackCallbackHandler).Methods(http.MethodGet)

	// Ephemeral artifacts by token
	router.HandleFunc("/tmp/{token}", apiHandler.TempFileHandler).Methods(http.MethodGet)

	// Durable artifacts proxied from MinIO
	router.PathPrefix("/static/").HandlerFunc(staticFromMinio(cfg))

	server.Handler = router

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	<-sig
	logger.Info("shutting down")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", logger.ErrorField(err))
	}
	logger.Info("server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// staticFromMinio streams durable objects (mixes, jingles) out of the
// bucket without exposing the MinIO endpoint itself.
func staticFromMinio(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		objectPath := strings.TrimPrefix(r.URL.Path, "/static/")
		client := storage.GetMinioClient()
		if client == nil {
			http.Error(w, "Storage not available", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		object, err := client.GetObject(ctx, cfg.MinioBucket, objectPath, minio.GetObjectOptions{})
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		defer object.Close()

		if _, err := object.Stat(); err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}

		contentType := "application/octet-stream"
		switch {
		case strings.HasSuffix(objectPath, ".mp3"):
			contentType = "audio/mpeg"
		case strings.HasSuffix(objectPath, ".jpg"), strings.HasSuffix(objectPath, ".jpeg"):
			contentType = "image/jpeg"
		case strings.HasSuffix(objectPath, ".png"):
			contentType = "image/png"
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000")

		if _, err := io.Copy(w, object); err != nil {
			logger.Warn("failed to stream object", logger.String("key", objectPath), logger.ErrorField(err))
		}
	}
}
