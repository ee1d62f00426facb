package http

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-paas/internal/core/domain"
	"github.com/melih/lighthouse-paas/internal/core/ports"
)

// Lifecycle is the part of the lifecycle controller the handlers use.
type Lifecycle interface {
	Start(ctx context.Context, folder string) (domain.RegistryEntry, error)
	Stop(ctx context.Context, folder string) error
	Status() map[string]domain.RegistryEntry
	Lookup(folder string) (domain.RegistryEntry, bool)
	Logs(ctx context.Context, folder string) (string, error)
}

type MicroserviceHandler struct {
	store     ports.BundleStore
	fetcher   ports.SourceFetcher
	lifecycle Lifecycle
	log       *zap.Logger
}

func NewMicroserviceHandler(store ports.BundleStore, fetcher ports.SourceFetcher, lifecycle Lifecycle, log *zap.Logger) *MicroserviceHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MicroserviceHandler{store: store, fetcher: fetcher, lifecycle: lifecycle, log: log.Named("http")}
}

func (h *MicroserviceHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Backend is running!"})
}

func (h *MicroserviceHandler) UploadMicroservice(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return h.fail(c, fmt.Errorf("%w: expected multipart form: %v", domain.ErrInvalid, err))
	}
	name := formValue(form, "name")
	description := formValue(form, "description")
	headers := form.File["files"]
	if name == "" {
		return h.fail(c, fmt.Errorf("%w: name is required", domain.ErrInvalid))
	}

	files := make([]domain.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return h.fail(c, fmt.Errorf("%w: read upload %s: %v", domain.ErrIO, fh.Filename, err))
		}
		defer f.Close()
		files = append(files, domain.UploadFile{Name: fh.Filename, Content: f})
	}

	bundle, err := h.store.Upload(name, description, files)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(bundleResponse(bundle))
}

type ImportRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	RepoURL     string `json:"repo_url" form:"repo_url"`
	Ref         string `json:"ref" form:"ref"`
}

// ImportMicroservice creates a bundle from a git repository.
func (h *MicroserviceHandler) ImportMicroservice(c *fiber.Ctx) error {
	var req ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid request body", domain.ErrInvalid))
	}
	if req.RepoURL == "" {
		return h.fail(c, fmt.Errorf("%w: repo_url is required", domain.ErrInvalid))
	}

	// Cloning can take a while, so it runs in the request goroutine with the
	// request context.
	bundle, err := h.store.Import(c.UserContext(), req.Name, req.Description, func(ctx context.Context, dir string) error {
		return h.fetcher.Fetch(ctx, req.RepoURL, req.Ref, dir)
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(bundleResponse(bundle))
}

func (h *MicroserviceHandler) ListMicroservices(c *fiber.Ctx) error {
	bundles, err := h.store.List()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"microservices": bundles})
}

func (h *MicroserviceHandler) Download(c *fiber.Ctx) error {
	folder, filename := c.Params("folder"), c.Params("filename")
	content, size, err := h.store.Open(folder, filename)
	if err != nil {
		return h.fail(c, err)
	}
	c.Attachment(filename)
	// fasthttp closes the stream once the body has been written.
	return c.SendStream(content, int(size))
}

func (h *MicroserviceHandler) StartMicroservice(c *fiber.Ctx) error {
	entry, err := h.lifecycle.Start(c.UserContext(), c.Params("folder"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"status":       "started",
		"container_id": entry.ContainerID,
		"port":         entry.Port,
	})
}

func (h *MicroserviceHandler) StopMicroservice(c *fiber.Ctx) error {
	if err := h.lifecycle.Stop(c.UserContext(), c.Params("folder")); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (h *MicroserviceHandler) StatusMicroservices(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"running": h.lifecycle.Status()})
}

func (h *MicroserviceHandler) MicroserviceLogs(c *fiber.Ctx) error {
	logs, err := h.lifecycle.Logs(c.UserContext(), c.Params("folder"))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(logs)
}

// fail writes err as {"status": "error", "detail": ...}.
func (h *MicroserviceHandler) fail(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code >= fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"status": "error",
		"detail": err.Error(),
	})
}

// StatusFor maps error kinds to HTTP status codes.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalid):
		return fiber.StatusBadRequest
	case errors.As(err, &fe):
		return fe.Code
	default:
		return fiber.StatusInternalServerError
	}
}

func bundleResponse(b *domain.Bundle) fiber.Map {
	return fiber.Map{
		"status":       "success",
		"microservice": b.Name,
		"description":  b.Description,
		"files":        b.Files,
		"folder":       b.Folder,
	}
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
