package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/jo-hoe/goprint/internal/backend/database"
	"github.com/jo-hoe/goprint/internal/backend/storage"
	"github.com/jo-hoe/goprint/internal/common"
	"github.com/jo-hoe/goprint/internal/core"

	"github.com/labstack/echo/v4"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

// apiResponse is the envelope every order endpoint answers with.
type apiResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Order   *database.Order `json:"pedido,omitempty"`
}

// orderView is an order as listed in the admin view, with the store path of
// its image for thumbnail requests.
type orderView struct {
	database.Order
	ImagePath string `json:"ruta_imagen,omitempty"`
}

type checkUserRequest struct {
	Username string `json:"username" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirectUrl"`
	Email       string `json:"email"`
}

type updateStatusRequest struct {
	ImageURL string `json:"imagen_url" validate:"required"`
	Status   string `json:"nuevo_estado" validate:"required"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", s.probeHandler)

	api := e.Group("/api")
	api.POST("/check-user", s.checkUserHandler)
	api.POST("/login", s.loginHandler)
	api.POST("/logout", s.logoutHandler)
	api.POST("/complete-setup", s.completeSetupHandler)
	api.GET("/get-admin-email", s.adminEmailHandler)
	api.GET("/config-models", s.configModelsHandler)
	api.POST("/pedidos", s.createOrderHandler)

	requireSession := common.RequireSession(s.coreService.Sessions(), s.unauthorizedHandler)
	api.GET("/pedidos", s.listOrdersHandler, requireSession)
	api.POST("/update-status", s.updateStatusHandler, requireSession)
	api.GET("/download-folder/:type/:folder", s.downloadFolderHandler, requireSession)
	api.GET("/thumbnail/*", s.thumbnailHandler, requireSession)

	if local, ok := s.coreService.Files().(*storage.LocalStore); ok {
		e.GET("/img/*", func(ctx echo.Context) error {
			return s.localImageHandler(ctx, local)
		})
	}
}

func (s *APIService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "ok")
}

func (s *APIService) unauthorizedHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusUnauthorized, apiResponse{Success: false, Error: "login required"})
}

func (s *APIService) checkUserHandler(ctx echo.Context) error {
	var request checkUserRequest
	if err := s.bindAndValidate(ctx, &request); err != nil {
		return s.fail(ctx, "checkUserHandler", err)
	}
	return ctx.JSON(http.StatusOK, s.coreService.Users().Check(request.Username))
}

func (s *APIService) loginHandler(ctx echo.Context) error {
	var request loginRequest
	if err := s.bindAndValidate(ctx, &request); err != nil {
		return s.fail(ctx, "loginHandler", err)
	}

	user, err := s.coreService.Users().Authenticate(request.Username, request.Password)
	if err != nil {
		slog.Warn("loginHandler: login rejected", "status", http.StatusUnauthorized, "username", request.Username)
		return ctx.JSON(http.StatusUnauthorized, apiResponse{Success: false, Message: "invalid credentials"})
	}

	session := s.coreService.Sessions().Create(user.Username)
	common.SetSessionCookie(ctx, session)
	return ctx.JSON(http.StatusOK, loginResponse{
		Success:     true,
		RedirectURL: user.RedirectURL,
		Email:       user.Email,
	})
}

func (s *APIService) logoutHandler(ctx echo.Context) error {
	if cookie, err := ctx.Cookie(common.SessionCookieName); err == nil {
		s.coreService.Sessions().Delete(cookie.Value)
	}
	common.ClearSessionCookie(ctx)
	return ctx.JSON(http.StatusOK, apiResponse{Success: true})
}

func (s *APIService) completeSetupHandler(ctx echo.Context) error {
	var request core.SetupRequest
	if err := s.bindAndValidate(ctx, &request); err != nil {
		return s.fail(ctx, "completeSetupHandler", err)
	}
	if err := s.coreService.Users().CompleteSetup(ctx.Request().Context(), request); err != nil {
		return s.fail(ctx, "completeSetupHandler", err)
	}
	return ctx.JSON(http.StatusOK, apiResponse{Success: true})
}

func (s *APIService) adminEmailHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"email": s.coreService.Users().AdminEmail(s.config.DefaultEmail, s.config.NotifyExclude),
	})
}

func (s *APIService) configModelsHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"hombre": core.ResolveEnvValue(s.config.Models.Men),
		"mujer":  core.ResolveEnvValue(s.config.Models.Women),
	})
}

func (s *APIService) createOrderHandler(ctx echo.Context) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		slog.Error("createOrderHandler: failed to parse multipart form",
			"status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, apiResponse{Success: false, Error: "expected a multipart form"})
	}
	// temporary upload files are removed on every path, accepted or not
	defer func() {
		if rerr := form.RemoveAll(); rerr != nil {
			slog.Error("createOrderHandler: failed to remove temporary uploads", "error", rerr)
		}
	}()

	request := core.OrderRequest{
		Product: formValue(form, "producto"),
		Phone:   formValue(form, "telefono"),
		Date:    formValue(form, "fecha"),
		Status:  formValue(form, "estado"),
		Files:   map[string]core.Upload{},
	}
	for _, slot := range core.Slots {
		headers := form.File[slot]
		if len(headers) == 0 {
			continue
		}
		upload, err := readUpload(headers[0])
		if err != nil {
			slog.Error("createOrderHandler: failed to read uploaded file",
				"status", http.StatusInternalServerError, "error", err, "slot", slot, "filename", headers[0].Filename)
			return ctx.JSON(http.StatusInternalServerError, apiResponse{Success: false, Error: "failed to read uploaded file"})
		}
		request.Files[slot] = upload
	}

	order, err := s.coreService.CreateOrder(ctx.Request().Context(), request)
	if err != nil {
		return s.fail(ctx, "createOrderHandler", err)
	}
	return ctx.JSON(http.StatusOK, apiResponse{Success: true, Order: &order})
}

func (s *APIService) listOrdersHandler(ctx echo.Context) error {
	orders, err := s.coreService.ListOrders(ctx.Request().Context())
	if err != nil {
		return s.fail(ctx, "listOrdersHandler", err)
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, orderView{Order: order, ImagePath: core.ImagePath(order)})
	}
	setNoCache(ctx)
	return ctx.JSON(http.StatusOK, views)
}

func (s *APIService) updateStatusHandler(ctx echo.Context) error {
	var request updateStatusRequest
	if err := s.bindAndValidate(ctx, &request); err != nil {
		return s.fail(ctx, "updateStatusHandler", err)
	}
	if err := s.coreService.UpdateStatus(ctx.Request().Context(), request.ImageURL, request.Status); err != nil {
		return s.fail(ctx, "updateStatusHandler", err)
	}
	return ctx.JSON(http.StatusOK, apiResponse{Success: true})
}

func (s *APIService) downloadFolderHandler(ctx echo.Context) error {
	archive, err := s.coreService.FolderArchive(ctx.Request().Context(), ctx.Param("type"), ctx.Param("folder"))
	if err != nil {
		return s.fail(ctx, "downloadFolderHandler", err)
	}

	slog.Info("downloadFolderHandler: streaming archive", "archive", archive.Name, "files", archive.Len())
	response := ctx.Response()
	response.Header().Set(echo.HeaderContentType, "application/zip")
	response.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", archive.Name))
	response.WriteHeader(http.StatusOK)
	if err := archive.Write(response); err != nil {
		// headers are already sent, the client sees a truncated archive
		slog.Error("downloadFolderHandler: failed to stream archive", "error", err, "archive", archive.Name)
	}
	return nil
}

func (s *APIService) thumbnailHandler(ctx echo.Context) error {
	thumbnail, err := s.coreService.Thumbnail(ctx.Request().Context(), ctx.Param("*"))
	if err != nil {
		return s.fail(ctx, "thumbnailHandler", err)
	}
	setNoCache(ctx)
	return ctx.Blob(http.StatusOK, http.DetectContentType(thumbnail), thumbnail)
}

func (s *APIService) localImageHandler(ctx echo.Context, local *storage.LocalStore) error {
	cleaned, err := storage.CleanPath("img/" + ctx.Param("*"))
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}
	return ctx.File(filepath.Join(local.Root(), filepath.FromSlash(cleaned)))
}

func (s *APIService) bindAndValidate(ctx echo.Context, request any) error {
	if err := ctx.Bind(request); err != nil {
		return &core.ValidationError{Message: "invalid request body"}
	}
	if err := ctx.Validate(request); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return &core.ValidationError{Message: fmt.Sprint(httpErr.Message)}
		}
		return &core.ValidationError{Message: err.Error()}
	}
	return nil
}

// fail maps core errors to status codes and writes the error envelope.
func (s *APIService) fail(ctx echo.Context, handler string, err error) error {
	status := http.StatusInternalServerError
	message := "internal error: " + err.Error()

	var validationErr *core.ValidationError
	switch {
	case errors.As(err, &validationErr):
		status, message = http.StatusBadRequest, validationErr.Message
	case core.IsNotFound(err):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, core.ErrUnauthorized):
		status, message = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, core.ErrNotAnImage):
		status, message = http.StatusUnsupportedMediaType, "file is not a supported image"
	}

	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", "status", status, "error", err)
	} else {
		slog.Warn(handler+": request rejected", "status", status, "error", err)
	}
	return ctx.JSON(status, apiResponse{Success: false, Error: message})
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func readUpload(header *multipart.FileHeader) (core.Upload, error) {
	src, err := header.Open()
	if err != nil {
		return core.Upload{}, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("failed to close uploaded file reader", "error", cerr, "filename", header.Filename)
		}
	}()

	content, err := io.ReadAll(src)
	if err != nil {
		return core.Upload{}, err
	}
	return core.Upload{Filename: header.Filename, Content: content}, nil
}

func setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
