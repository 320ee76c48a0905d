package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/verid/internal/api/handlers"
	"github.com/your-org/verid/internal/api/ws"
	"github.com/your-org/verid/internal/auth"
	"github.com/your-org/verid/internal/config"
	"github.com/your-org/verid/internal/queue"
	"github.com/your-org/verid/internal/storage"
)

// Router wires the HTTP surface: health, metrics, WebSocket and the
// authenticated v1 API.
type Router struct {
	engine  *gin.Engine
	Persons *handlers.PersonHandler
}

func NewRouter(
	cfg *config.Config,
	db *storage.PostgresStore,
	minio *storage.MinIOStore,
	producer *queue.Producer,
	hub *ws.Hub,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware())
	engine.Use(cors.Default())

	persons := handlers.NewPersonHandler(db, minio)
	streams := handlers.NewStreamHandler(db, producer, cfg.Detection.DefaultFPS)
	events := handlers.NewEventHandler(db, minio)
	attendance := handlers.NewAttendanceHandler(db)
	system := handlers.NewSystemHandler(db, minio, producer)

	engine.GET("/healthz", system.Healthz)
	engine.GET("/readyz", system.Readyz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.Server.APIKey))
	{
		v1.GET("/ws", hub.HandleWS)
		v1.GET("/stats", system.Stats)

		v1.POST("/persons", persons.Create)
		v1.GET("/persons", persons.List)
		v1.GET("/persons/:id", persons.Get)
		v1.DELETE("/persons/:id", persons.Delete)
		v1.POST("/persons/:id/faces", persons.AddFace)
		v1.GET("/persons/:id/faces", persons.ListFaces)
		v1.DELETE("/persons/:id/faces/:faceId", persons.DeleteFace)
		v1.GET("/persons/:id/emotion", attendance.Emotion)
		v1.POST("/search", persons.Search)

		v1.POST("/streams", streams.Create)
		v1.GET("/streams", streams.List)
		v1.GET("/streams/:id", streams.Get)
		v1.DELETE("/streams/:id", streams.Delete)
		v1.POST("/streams/:id/start", streams.Start)
		v1.POST("/streams/:id/stop", streams.Stop)

		v1.GET("/events", events.List)
		v1.GET("/events/:id", events.Get)
		v1.GET("/events/:id/snapshot", events.Snapshot)

		v1.GET("/attendance", attendance.Report)
	}

	return &Router{engine: engine, Persons: persons}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
