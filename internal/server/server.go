package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/emissor/internal/authority"
	"github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/credential"
	"github.com/smallbiznis/emissor/internal/issuancelock"
	"github.com/smallbiznis/emissor/internal/issuer"
	"github.com/smallbiznis/emissor/internal/nfse"
	nfsedomain "github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/smallbiznis/emissor/internal/observability"
	obsmiddleware "github.com/smallbiznis/emissor/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/emissor/internal/observability/metrics"
	obstracing "github.com/smallbiznis/emissor/internal/observability/tracing"
	"github.com/smallbiznis/emissor/internal/sequence"
	sequencedomain "github.com/smallbiznis/emissor/internal/sequence/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authority.Module,
	credential.Module,
	issuancelock.Module,
	issuer.Module,
	sequence.Module,
	nfse.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	genID     *snowflake.Node
	nfseSvc   nfsedomain.Service
	allocator sequencedomain.Allocator
}

type ServerParam struct {
	fx.In

	Engine    *gin.Engine
	Cfg       config.Config
	GenID     *snowflake.Node
	NfseSvc   nfsedomain.Service
	Allocator sequencedomain.Allocator
}

func NewServer(p ServerParam) *Server {
	s := &Server{
		engine:    p.Engine,
		cfg:       p.Cfg,
		genID:     p.GenID,
		nfseSvc:   p.NfseSvc,
		allocator: p.Allocator,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/documents", s.issueDocument)
	api.GET("/documents", s.listDocuments)
	api.GET("/documents/:id", s.getDocument)
	api.GET("/documents/:id/xml", s.getDocumentXML)
	api.POST("/documents/:id/cancel", s.cancelDocument)

	api.GET("/issuers/:id/sequence", s.getSequence)
}
