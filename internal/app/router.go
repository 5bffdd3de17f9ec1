package app

import (
	"wellness_backend/docs"
	"wellness_backend/internal/config"
	"wellness_backend/internal/middleware"
	"wellness_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RequestLogger())
	{
		a.registerAssessmentRoutes(authGroup, c)
	}
}

func (a *App) registerAssessmentRoutes(rg *gin.RouterGroup, c *controllers) {
	assessment := rg.Group("/assessment")
	{
		assessment.POST("/start", c.assessment.Start)
		assessment.POST("/response", c.assessment.Respond)
		assessment.POST("/talk", c.assessment.Talk)
		assessment.GET("/history", c.assessment.History)
		assessment.GET("/sessions/:id", c.assessment.GetSession)
		assessment.POST("/sessions/:id/pause", c.assessment.Pause)
		assessment.POST("/sessions/:id/resume", c.assessment.Resume)
	}
}
