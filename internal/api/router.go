package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lunarithm/facelogix/internal/api/handlers"
	"github.com/lunarithm/facelogix/internal/api/ws"
	"github.com/lunarithm/facelogix/internal/auth"
	"github.com/lunarithm/facelogix/internal/coordinator"
	"github.com/lunarithm/facelogix/internal/queue"
	"github.com/lunarithm/facelogix/internal/storage"
	"github.com/lunarithm/facelogix/internal/vision"
)

// RouterConfig wires the dependencies NewRouter needs to construct every
// handler: the vision pipeline, the attendance coordinator, and the
// storage/queue/realtime components behind them.
type RouterConfig struct {
	APIKey      string
	DB          *storage.PostgresStore
	MinIO       *storage.MinIOStore
	Producer    *queue.Producer
	Hub         *ws.Hub
	Pipeline    *vision.Pipeline
	Coordinator *coordinator.Coordinator
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	pipelineH := handlers.NewPipelineHandler(cfg.Pipeline)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	orgH := handlers.NewOrganizationHandler(cfg.DB)
	userH := handlers.NewUserHandler(cfg.DB, cfg.MinIO)
	userH.EmbedFn = cfg.Pipeline.Embed
	userH.EmbedBatchFn = cfg.Pipeline.EmbedBatch
	attendanceH := handlers.NewAttendanceHandler(cfg.DB, cfg.MinIO, cfg.Coordinator, cfg.Producer)
	attendanceH.EmbedFn = cfg.Pipeline.Embed

	// /health is served without auth: it is a liveness probe for the
	// inference service itself, same as the other ops endpoints.
	r.GET("/health", pipelineH.Health)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	// The client-facing FACE_SERVICE_TIMEOUT budget applies uniformly to
	// every route below instead of per-handler, including the CRUD, event
	// and WebSocket routes that never call into the vision pipeline.
	v1.Use(ServiceTimeoutMiddleware(cfg.Pipeline.ServiceTimeout()))

	// Inference contracts
	v1.POST("/detect", pipelineH.Detect)
	v1.POST("/embed", pipelineH.Embed)
	v1.POST("/liveness", pipelineH.Liveness)

	// WebSocket push of attendance decisions
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Attendance decisions
	v1.POST("/attendance/check-in", attendanceH.CheckIn)
	v1.POST("/attendance/check-out", attendanceH.CheckOut)
	v1.GET("/attendance/events", attendanceH.ListEvents)

	// Organization / user / gallery CRUD: the minimal enrollment surface
	// the coordinator's gallery search needs to have anything to search
	// against.
	v1.POST("/organizations", orgH.Create)
	v1.GET("/organizations", orgH.List)
	v1.GET("/organizations/:id", orgH.Get)

	v1.POST("/users", userH.Create)
	v1.GET("/users", userH.List)
	v1.GET("/users/:id", userH.Get)
	v1.DELETE("/users/:id", userH.Delete)
	v1.POST("/users/:id/faces", userH.AddFace)
	v1.POST("/users/:id/faces/bulk", userH.AddFacesBulk)
	v1.GET("/users/:id/faces", userH.ListFaces)
	v1.DELETE("/users/:id/faces/:faceId", userH.DeleteFace)
	v1.POST("/users/search", userH.Search)

	return r
}
