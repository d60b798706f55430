package main

import (
	"context"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	"go.uber.org/zap"

	"abcadventure/internal/catalog"
	"abcadventure/internal/clock"
	"abcadventure/internal/images"
	"abcadventure/internal/learning"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logFatal("Failed to load config: %v", err)
	}

	zl, err := newLogger(cfg)
	if err != nil {
		logFatal("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger = zl.Sugar()

	app, err := newApp(cfg, zl)
	if err != nil {
		logFatal("Failed to initialize: %v", err)
	}
	logInfo("Starting Alphabet Adventure in %s mode", map[bool]string{true: "production", false: "development"}[app.IsProduction])
	logInfo("Loaded %d catalog letters", app.Catalog.Len())

	if app.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := app.setupRouter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.runSessionJanitor(ctx, max(cfg.SessionTimeout/4, time.Minute))
	time.AfterFunc(cfg.PreloadDelay, app.triggerPreload)

	app.startServer(ctx, router)
}

// newApp wires the catalog, image preloader and learning defaults.
func newApp(cfg Config, zl *zap.Logger) (*App, error) {
	cat, err := catalog.New(catalog.AssetPath("/"))
	if err != nil {
		return nil, err
	}

	var fetcher images.Fetcher = images.DirFetcher{FS: os.DirFS(cfg.AssetDir)}
	if cfg.AssetBaseURL != "" {
		fetcher = images.HTTPFetcher{BaseURL: cfg.AssetBaseURL}
	}

	lc := learning.DefaultConfig()
	lc.ImageTimeout = cfg.ImageTimeout

	return &App{
		Config:         cfg,
		IsProduction:   cfg.IsProduction(),
		StartTime:      time.Now(),
		Logger:         zl,
		Catalog:        cat,
		Images:         images.NewPreloader(fetcher, cat.ImagePaths(), cfg.PreloadConcurrency, zl.Named("images")),
		Scheduler:      clock.Real{},
		LearningConfig: lc,
		Learners:       make(map[string]*Learner),
		LimiterMap:     make(map[string]*clientLimiter),
	}, nil
}

// setupRouter registers middleware, templates and routes.
func (app *App) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), requestIDMiddleware())

	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedExtensions([]string{".svg", ".ico", ".png", ".jpg", ".jpeg", ".gif"}),
		ginGzip.WithExcludedPaths([]string{"/static/fonts", RouteEvents, "/images"})))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logWarn("Failed to set trusted proxies: %v", err)
	}

	router.Use(func(c *gin.Context) {
		applyCacheHeaders(c, app.IsProduction, app.Config.StaticCacheAge)
	})

	router.SetFuncMap(template.FuncMap{
		"percent": formatPercent,
	})

	templates, static := "templates/*.html", "./static"
	if app.IsProduction && dirExists("dist") {
		logInfo("Serving assets from dist/ directory")
		templates, static = "dist/templates/*.html", "./dist/static"
	}
	router.LoadHTMLGlob(templates)
	router.Static("/static", static)

	app.registerRoutes(router)
	return router
}

func (app *App) registerRoutes(router *gin.Engine) {
	limited := app.rateLimitMiddleware()

	router.GET(RouteHome, app.homeHandler)
	router.GET(RouteState, app.stateHandler)
	router.POST(RouteLetter, limited, app.letterHandler)
	router.POST(RouteKey, limited, app.keyHandler)
	router.POST(RouteNext, limited, app.nextHandler)
	router.POST(RouteReset, limited, app.resetHandler)
	router.POST(RouteSpeak, limited, app.speakHandler)
	router.POST(RouteImageLoaded, app.imageLoadedHandler)
	router.POST(RouteImageFailed, app.imageFailedHandler)
	router.POST(RouteDismiss, app.dismissHandler)
	router.POST(RouteVoices, limited, app.voicesHandler)
	router.GET(RouteEvents, app.eventsHandler)
	router.GET(RouteImages, app.imageHandler)
	router.GET(RouteHealthz, app.healthzHandler)
}

// startServer serves until ctx is cancelled, then shuts down gracefully.
func (app *App) startServer(ctx context.Context, router *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: /events streams for the life of the page
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		logInfo("Shutdown signal received, shutting down server gracefully...")
		app.closeAllSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	logInfo("Server starting on http://localhost:%s", app.Config.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	logInfo("Server shutdown complete")
}

func applyCacheHeaders(c *gin.Context, production bool, staticAge time.Duration) {
	path := c.Request.URL.Path
	if production && (strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, imageRoutePrefix)) {
		cachecontrol.New(cachecontrol.Config{
			Public: true,
			MaxAge: cachecontrol.Duration(staticAge),
		})(c)
		c.Header("Vary", "Accept-Encoding")
		return
	}
	cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})(c)
}
