// Package api exposes the REST and WebSocket control surface under /api
// and /ws.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vsthakur101/webapi-moderator/cert"
	"github.com/vsthakur101/webapi-moderator/config"
	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/intruder"
	"github.com/vsthakur101/webapi-moderator/proxy"
	"github.com/vsthakur101/webapi-moderator/rules"
	"github.com/vsthakur101/webapi-moderator/scanner"
	"github.com/vsthakur101/webapi-moderator/sitemap"
	"github.com/vsthakur101/webapi-moderator/spider"
	"github.com/vsthakur101/webapi-moderator/storage"
)

// Server wires the HTTP control surface over the engines.
type Server struct {
	cfg         *config.Settings
	store       storage.Store
	engine      *proxy.Engine
	coordinator *intercept.Coordinator
	ruleEngine  *rules.Engine
	bus         *eventbus.Bus
	ca          *cert.Store
	intruder    *intruder.Engine
	spider      *spider.Engine
	scanner     *scanner.Engine
	sitemap     *sitemap.Builder

	router *gin.Engine
}

// Deps bundles the Server's collaborators.
type Deps struct {
	Config      *config.Settings
	Store       storage.Store
	Engine      *proxy.Engine
	Coordinator *intercept.Coordinator
	RuleEngine  *rules.Engine
	Bus         *eventbus.Bus
	CA          *cert.Store
	Intruder    *intruder.Engine
	Spider      *spider.Engine
	Scanner     *scanner.Engine
	Sitemap     *sitemap.Builder
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:         deps.Config,
		store:       deps.Store,
		engine:      deps.Engine,
		coordinator: deps.Coordinator,
		ruleEngine:  deps.RuleEngine,
		bus:         deps.Bus,
		ca:          deps.CA,
		intruder:    deps.Intruder,
		spider:      deps.Spider,
		scanner:     deps.Scanner,
		sitemap:     deps.Sitemap,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())

	api := r.Group("/api")
	{
		api.GET("/requests", s.listRequests)
		api.DELETE("/requests", s.clearRequests)
		api.GET("/requests/:id", s.getRequest)
		api.DELETE("/requests/:id", s.deleteRequest)
		api.POST("/requests/:id/tags", s.tagRequest)

		api.GET("/rules", s.listRules)
		api.POST("/rules", s.createRule)
		api.GET("/rules/:id", s.getRule)
		api.PATCH("/rules/:id", s.patchRule)
		api.DELETE("/rules/:id", s.deleteRule)
		api.POST("/rules/:id/toggle", s.toggleRule)

		api.GET("/proxy/status", s.proxyStatus)
		api.POST("/proxy/start", s.proxyStart)
		api.POST("/proxy/stop", s.proxyStop)
		api.POST("/proxy/intercept/toggle", s.interceptToggle)
		api.GET("/proxy/intercept/pending", s.interceptPending)
		api.POST("/proxy/intercept/action", s.interceptAction)
		api.POST("/proxy/replay", s.proxyReplay)
		api.GET("/proxy/certificate", s.proxyCertificate)
		api.GET("/proxy/system/status", s.systemProxyStatus)
		api.POST("/proxy/system/enable", s.systemProxyEnable)
		api.POST("/proxy/system/disable", s.systemProxyDisable)

		api.GET("/intruder/attacks", s.listAttacks)
		api.POST("/intruder/attacks", s.createAttack)
		api.GET("/intruder/attacks/:id", s.getAttack)
		api.DELETE("/intruder/attacks/:id", s.deleteAttack)
		api.POST("/intruder/attacks/:id/start", s.startAttack)
		api.POST("/intruder/attacks/:id/pause", s.pauseAttack)
		api.POST("/intruder/attacks/:id/resume", s.resumeAttack)
		api.POST("/intruder/attacks/:id/stop", s.stopAttack)
		api.GET("/intruder/attacks/:id/results", s.listAttackResults)

		api.GET("/spider/sessions", s.listSpiderSessions)
		api.POST("/spider/sessions", s.createSpiderSession)
		api.GET("/spider/sessions/:id", s.getSpiderSession)
		api.DELETE("/spider/sessions/:id", s.deleteSpiderSession)
		api.POST("/spider/sessions/:id/start", s.startSpiderSession)
		api.POST("/spider/sessions/:id/pause", s.pauseSpiderSession)
		api.POST("/spider/sessions/:id/resume", s.resumeSpiderSession)
		api.POST("/spider/sessions/:id/stop", s.stopSpiderSession)
		api.GET("/spider/sessions/:id/urls", s.listSpiderURLs)

		api.GET("/scanner/checks", s.listScanChecks)
		api.GET("/scanner/scans", s.listScans)
		api.POST("/scanner/scans", s.createScan)
		api.GET("/scanner/scans/:id", s.getScan)
		api.DELETE("/scanner/scans/:id", s.deleteScan)
		api.POST("/scanner/scans/:id/start", s.startScan)
		api.POST("/scanner/scans/:id/stop", s.stopScan)
		api.GET("/scanner/scans/:id/issues", s.listScanIssues)
		api.PATCH("/scanner/issues/:id", s.updateScanIssue)
		api.GET("/scanner/configs", s.listScanConfigs)
		api.POST("/scanner/configs", s.createScanConfig)
		api.DELETE("/scanner/configs/:id", s.deleteScanConfig)

		api.POST("/decoder/encode", s.decoderEncode)
		api.POST("/decoder/decode", s.decoderDecode)
		api.POST("/decoder/hash", s.decoderHash)
		api.POST("/decoder/smart-decode", s.decoderSmartDecode)

		api.POST("/comparer/compare", s.comparerCompare)

		api.POST("/sequencer/analyze", s.sequencerAnalyze)
		api.GET("/sequencer/analyses", s.listSequencerAnalyses)
		api.DELETE("/sequencer/analyses/:id", s.deleteSequencerAnalysis)

		api.GET("/collections", s.listCollections)
		api.POST("/collections", s.createCollection)
		api.GET("/collections/:id", s.getCollection)
		api.DELETE("/collections/:id", s.deleteCollection)
		api.POST("/collections/:id/items", s.addCollectionItem)
		api.GET("/collections/:id/items", s.listCollectionItems)
		api.DELETE("/collections/:id/items/:itemId", s.deleteCollectionItem)

		api.GET("/targets", s.listTargets)
		api.PATCH("/targets/:id", s.updateTarget)
		api.DELETE("/targets/:id", s.deleteTarget)
		api.GET("/targets/:id/sitemap", s.targetSiteMap)
		api.POST("/targets/sitemap/rebuild", s.rebuildSiteMap)
	}

	r.GET("/ws", s.handleWS)

	s.router = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on the configured address.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)
	log.WithField("addr", addr).Info("api listening")
	return s.router.Run(addr)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// refreshRules republishes the rule snapshot after storage changes.
func (s *Server) refreshRules() {
	recs, err := s.store.ListRules()
	if err != nil {
		log.WithError(err).Error("reload rules failed")
		return
	}
	rs := make([]rules.Rule, 0, len(recs))
	for _, rec := range recs {
		rs = append(rs, rec.ToRule())
	}
	for _, err := range s.ruleEngine.SetRules(rs) {
		log.WithError(err).Warn("rule compile failed")
	}
}

func abortError(c *gin.Context, err error) {
	switch err {
	case storage.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	case intercept.ErrUnknownSlot, intercept.ErrAlreadyResolved:
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}
