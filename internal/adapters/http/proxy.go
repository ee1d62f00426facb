package http

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// ProxyHandler forwards requests to running microservices.
type ProxyHandler struct {
	lifecycle Lifecycle
	host      string
}

// NewProxyHandler creates a new proxy handler. host is where published
// container ports are reachable from this process.
func NewProxyHandler(lifecycle Lifecycle, host string) *ProxyHandler {
	return &ProxyHandler{lifecycle: lifecycle, host: host}
}

// ProxyRequest routes /proxy/:folder/* to the published port of the
// folder's container, with the /proxy/:folder prefix stripped.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	folder := c.Params("folder")
	entry, ok := h.lifecycle.Lookup(folder)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status": "error",
			"detail": fmt.Sprintf("microservice '%s' not running", folder),
		})
	}

	remote, err := url.Parse("http://" + net.JoinHostPort(h.host, strconv.Itoa(entry.Port)))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Invalid target URL")
	}
	path := "/" + c.Params("*")

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite Host header and path to the target so the container sees a
	// request for its own root.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
		req.URL.Path = path
		req.URL.RawPath = ""
	}

	// Error Handler: Return standard BadGateway if connectivity fails
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(fmt.Sprintf("Proxy Info: target=%s error=%v", remote.Host, err)))
	}

	// Fiber <-> Net/HTTP Adaptor
	return adaptor.HTTPHandler(proxy)(c)
}
