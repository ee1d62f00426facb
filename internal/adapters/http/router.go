package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Options configures the API application.
type Options struct {
	Handler     *MicroserviceHandler
	Proxy       *ProxyHandler
	Logger      *zap.Logger
	Recorder    RequestRecorder
	CORSOrigins string
	BodyLimit   int
}

// NewApp builds the Fiber application with every route registered.
func NewApp(opts Options) *fiber.App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		// Route params end up as registry keys, so they must not alias
		// fasthttp's reused buffers.
		Immutable:             true,
		BodyLimit:             opts.BodyLimit,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(RequestLogger(log.Named("access"), opts.Recorder))
	// Inside the logger so recovered panics are logged and counted as 500s.
	app.Use(recover.New())
	// Development setting: every origin is allowed unless configured.
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
	}))

	h := opts.Handler
	app.Get("/", h.Root)
	app.Post("/upload-microservice", h.UploadMicroservice)
	app.Post("/import-microservice", h.ImportMicroservice)
	app.Get("/list-microservices", h.ListMicroservices)
	app.Get("/download/:folder/:filename", h.Download)
	app.Post("/start-microservice/:folder", h.StartMicroservice)
	app.Post("/stop-microservice/:folder", h.StopMicroservice)
	app.Get("/status-microservices", h.StatusMicroservices)
	app.Get("/logs-microservice/:folder", h.MicroserviceLogs)

	if opts.Proxy != nil {
		app.All("/proxy/:folder/*", opts.Proxy.ProxyRequest)
	}

	return app
}

// NewMetricsApp serves metrics on its own listener.
func NewMetricsApp(handler http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", adaptor.HTTPHandler(handler))
	return app
}
