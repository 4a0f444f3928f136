package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterOptions struct {
	AllowedOrigins []string
	// MediaDir is served read-only under /media.
	MediaDir  string
	Metrics   http.Handler
	Operators service.OperatorInteractor
	// ServiceName names the server spans; empty disables request tracing.
	ServiceName string
	Log         *slog.Logger
}

func SetupRouter(
	opts RouterOptions,
	scanController *ScanController,
	guestController *GuestController,
	reportController *ReportController,
	liveController *LiveController,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}
	router.Use(RequestLogger(opts.Log))

	config := cors.DefaultConfig()
	config.AllowOrigins = opts.AllowedOrigins
	if len(config.AllowOrigins) == 0 || (len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*") {
		config.AllowOrigins = nil
		config.AllowAllOrigins = true
	} else {
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	config.ExposeHeaders = []string{"Content-Disposition"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.MediaDir != "" {
		router.Static("/media", opts.MediaDir)
	}

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	api := router.Group("/api")

	if guestController != nil {
		api.GET("/qr/:token", guestController.GetGuestByToken)
	}

	authed := api.Group("", BasicAuth(opts.Operators, opts.Log))

	if reportController != nil {
		authed.GET("/operators/me", reportController.Me)
	}

	scan := authed.Group("", RequireCapability(domain.CapabilityScan))
	if scanController != nil {
		scan.POST("/scan", scanController.Scan)
		scan.POST("/scan/image", scanController.ScanImage)
	}
	if reportController != nil {
		scan.GET("/stats", reportController.Stats)
	}
	if liveController != nil {
		scan.GET("/live/ws", liveController.Watch)
	}

	register := authed.Group("/guests", RequireCapability(domain.CapabilityRegister))
	admin := authed.Group("", RequireCapability(domain.CapabilityAdmin))
	if guestController != nil {
		register.POST("", guestController.CreateGuest)
		register.GET("", guestController.ListGuests)
		register.GET("/:guestID", guestController.GetGuest)
		register.PATCH("/:guestID", guestController.UpdateGuest)
		register.PUT("/:guestID/photo", guestController.SetPhoto)
		register.GET("/:guestID/qr.png", guestController.QRImage)

		admin.DELETE("/guests/:guestID", guestController.DeleteGuest)
		admin.POST("/guests/:guestID/qr/regenerate", guestController.RegenerateQR)
		admin.POST("/guests/:guestID/token/regenerate", guestController.RegenerateToken)
		admin.POST("/guests/bulk/qr/regenerate", guestController.RegenerateQRMany)
	}
	if scanController != nil {
		admin.POST("/guests/:guestID/attendance/arrive", scanController.MarkArrived)
		admin.POST("/guests/:guestID/attendance/reset", scanController.ResetArrival)
		admin.POST("/guests/bulk/attendance/arrive", scanController.MarkArrivedMany)
		admin.POST("/guests/bulk/attendance/reset", scanController.ResetArrivalMany)
	}
	if reportController != nil {
		admin.GET("/guests/pending", reportController.NotArrived)
		admin.GET("/reports/attendance.csv", reportController.ExportCSV)
	}

	return router
}
