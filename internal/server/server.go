// Package server is the main node's HTTP/WebSocket boundary: the three
// /realtime routes (host, status, connect), the socket upgrade, and the
// per-connection wiring that turns an admitted socket into a running
// Client Connection Endpoint bound to its cospace.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/admission"
	"github.com/fasttravel/realtime/internal/cache"
	"github.com/fasttravel/realtime/internal/errors"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/middleware"
	"github.com/fasttravel/realtime/internal/registry"
	"github.com/fasttravel/realtime/internal/transport"
)

// Subprotocol is the WebSocket subprotocol negotiated on upgrade.
const Subprotocol = "realtime-proto-v01"

// Server bundles the main node's request-handling dependencies.
type Server struct {
	validator *admission.Validator
	cospaces  *manager.CospaceManager
	nodes     *manager.NodeManager
	reg       *registry.Registry
	trans     *transport.Transport // nil when running single-process
	mirror    *cache.RegistryMirror
	log       zerolog.Logger

	// remoteTrackers holds the per-cospace liveness trackers for
	// cospaces hosted on other nodes: the connection service actor
	// still records liveness locally even when the activity service
	// answering queries lives remote.
	trackMu        sync.Mutex
	remoteTrackers map[ids.CospaceID]*activity.Tracker
}

// New assembles a Server. trans and mirror may be nil.
func New(validator *admission.Validator, cospaces *manager.CospaceManager, nodes *manager.NodeManager, reg *registry.Registry, trans *transport.Transport, mirror *cache.RegistryMirror, log zerolog.Logger) *Server {
	return &Server{
		validator:      validator,
		cospaces:       cospaces,
		nodes:          nodes,
		reg:            reg,
		trans:          trans,
		mirror:         mirror,
		log:            log,
		remoteTrackers: make(map[ids.CospaceID]*activity.Tracker),
	}
}

// Router builds the gin engine with the full middleware chain and the
// three realtime routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(errors.Recovery())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.SecurityHeaders())
	validator := middleware.NewInputValidator()
	router.Use(validator.Middleware("ticket"))
	router.Use(validator.SanitizeJSONMiddleware())
	router.Use(middleware.RequestSizeLimiter(1 * 1024 * 1024))
	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, []string{
		"/realtime/connect/", // upgraded sockets carry their own framing
	}))
	router.Use(errors.ErrorHandler())

	router.POST("/realtime/host/", s.handleHost)
	router.GET("/realtime/status/:cospace", s.handleStatus)
	router.GET("/realtime/connect/:cospace", s.handleConnect)
	return router
}

// hostRequest is the /realtime/host/ body.
type hostRequest struct {
	ModelWorkspace string `json:"model_workspace" binding:"required"`
	ModelNamespace string `json:"model_namespace" binding:"required"`
}

func (s *Server) handleHost(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		errors.AbortWithError(c, errors.WrongCredentials())
		return
	}
	if _, err := s.validator.ValidateHostTicket(token); err != nil {
		s.log.Warn().Err(err).Msg("host_ticket_rejected")
		errors.AbortWithError(c, errors.InvalidToken())
		return
	}

	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortWithError(c, errors.BadRequest("model_workspace and model_namespace are required"))
		return
	}
	if err := middleware.ValidateModelRootComponent(req.ModelNamespace); err != nil {
		errors.AbortWithError(c, errors.ValidationFailed("model_namespace: "+err.Error()))
		return
	}
	if err := middleware.ValidateModelRootComponent(req.ModelWorkspace); err != nil {
		errors.AbortWithError(c, errors.ValidationFailed("model_workspace: "+err.Error()))
		return
	}

	root := ids.ModelRoot{Namespace: req.ModelNamespace, Workspace: req.ModelWorkspace}
	id, err := s.cospaces.SpawnAsync(c.Request.Context(), root)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	s.log.Info().Str("cospace", id.String()).Str("root", root.String()).Msg("cospace_scheduled")
	c.JSON(http.StatusOK, gin.H{"uuid": id.Hyphenless()})
}

func (s *Server) handleStatus(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		errors.AbortWithError(c, errors.WrongCredentials())
		return
	}
	if _, err := s.validator.ValidateStatusTicket(token); err != nil {
		errors.AbortWithError(c, errors.InvalidToken())
		return
	}

	id, err := ids.ParseCospaceID(c.Param("cospace"))
	if err != nil {
		errors.AbortWithError(c, errors.BadRequest("malformed cospace id"))
		return
	}

	status := s.cospaces.StatusOf(id)
	if status == registry.NotFound && s.mirror.Enabled() {
		// Another replica may own this cospace; consult the shared
		// mirror before reporting NOT_FOUND.
		if mirrored, found := s.mirror.Lookup(c.Request.Context(), id); found {
			status = mirrored
		}
	}
	c.String(http.StatusOK, status.String())
}

func bearerToken(c *gin.Context) (string, bool) {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

// trackerFor resolves the liveness tracker shared between a connection's
// admission actor and the cospace's activity service: the hosting node
// manager's tracker when the cospace is local, a node-local stand-in
// when it is remote.
func (s *Server) trackerFor(id ids.CospaceID) *activity.Tracker {
	if t, ok := s.nodes.TrackerFor(id); ok {
		return t
	}
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	t, ok := s.remoteTrackers[id]
	if !ok {
		t = activity.NewTracker()
		s.remoteTrackers[id] = t
	}
	return t
}

// observer implementations wiring the manager's lifecycle transitions
// into the ambient stores.

// AuditObserver forwards transitions to a persistence sink.
type AuditObserver struct {
	Record func(id ids.CospaceID, root ids.ModelRoot, transition, detail string)
}

func (o AuditObserver) Transition(id ids.CospaceID, root ids.ModelRoot, status registry.Status, detail string) {
	transition := status.String()
	if status == registry.NotFound {
		transition = "TERMINATED"
	}
	o.Record(id, root, transition, detail)
}

// MirrorObserver reflects transitions into the Redis status mirror.
type MirrorObserver struct {
	Mirror *cache.RegistryMirror
}

func (o MirrorObserver) Transition(id ids.CospaceID, _ ids.ModelRoot, status registry.Status, _ string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if status == registry.NotFound {
		o.Mirror.Remove(ctx, id)
		return
	}
	o.Mirror.Update(ctx, id, status)
}
