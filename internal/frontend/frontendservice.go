package frontend

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/goprint/internal/common"
	"github.com/jo-hoe/goprint/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName  = "index.html"
	LoginPageName = "login.html"
	AdminPageName = "admin.html"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

// orderPage is the data of the order form.
type orderPage struct {
	Categories    []core.CategoryConfig
	InitialStatus string
}

type adminPage struct {
	Username      string
	InitialStatus string
	Statuses      []string
}

// statuses offered in the admin view, in workflow order
var statuses = []string{
	core.DefaultInitialStatus,
	"Aprobado",
	"En producción",
	"Listo para entrega",
	"Entregado",
	"Cancelado",
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = &Template{
		templates: template.Must(template.New("").ParseFS(templateFS, viewsPattern)),
	}

	e.GET("/", service.rootRedirectHandler)
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET("/"+LoginPageName, service.loginHandler)

	requireSession := common.RequireSession(service.coreService.Sessions(), service.loginRedirectHandler)
	e.GET("/"+AdminPageName, service.adminHandler, requireSession)

	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, MainPageName, orderPage{
		Categories:    service.config.Categories,
		InitialStatus: service.config.InitialStatus,
	})
}

func (service *FrontendService) loginHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, LoginPageName, nil)
}

func (service *FrontendService) loginRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusFound, "/"+LoginPageName)
}

func (service *FrontendService) adminHandler(ctx echo.Context) error {
	page := adminPage{
		InitialStatus: service.config.InitialStatus,
		Statuses:      statuses,
	}
	if session, ok := common.CurrentSession(ctx); ok {
		page.Username = session.Username
	}
	if page.InitialStatus != statuses[0] {
		page.Statuses = append([]string{page.InitialStatus}, statuses...)
	}

	// Prevent caching so a logged out browser does not show the page from cache
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	return ctx.Render(http.StatusOK, AdminPageName, page)
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}
