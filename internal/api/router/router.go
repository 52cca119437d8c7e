package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/stage-runner/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "stage-runner-api",
		})
	})

	invocationHandler := handler.NewInvocationHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		invocations := v1.Group("/invocations")
		{
			// POST /api/v1/invocations - Run an invocation synchronously
			invocations.POST("", invocationHandler.CreateInvocation)

			// GET /api/v1/invocations/:job_id - Get the recorded outcome
			invocations.GET("/:job_id", invocationHandler.GetRun)
		}
	}

	return r
}
