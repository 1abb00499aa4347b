package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jo-hoe/goprint/internal/backend/database"
	"github.com/jo-hoe/goprint/internal/backend/imagecheck"
	"github.com/jo-hoe/goprint/internal/backend/storage"
)

// DateLayout is the order date format, DD/MM/YYYY HH:mm:ss.
const DateLayout = "02/01/2006 15:04:05"

var safeExtension = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// Upload slot names, identical to the form field names.
const (
	SlotImage       = "imagen"
	SlotTemplate    = "plantilla"
	SlotFront       = "lamina_frontal"
	SlotBack        = "lamina_espaldar"
	SlotDesignPhoto = "foto_diseno"
)

// Slots lists every accepted upload field.
var Slots = []string{SlotImage, SlotTemplate, SlotFront, SlotBack, SlotDesignPhoto}

// acceptedSlots returns the upload fields an order of the given policy may carry.
func acceptedSlots(policy string) []string {
	if policy == PolicyBounded {
		return []string{SlotFront, SlotBack, SlotTemplate, SlotDesignPhoto}
	}
	return []string{SlotImage, SlotTemplate, SlotDesignPhoto}
}

type Upload struct {
	Filename string
	Content  []byte
}

type OrderRequest struct {
	Product string
	Phone   string
	Date    string
	Status  string
	Files   map[string]Upload
}

func (r OrderRequest) has(slot string) bool {
	upload, ok := r.Files[slot]
	return ok && len(upload.Content) > 0
}

// CreateOrder validates the uploads, assigns the next folder of the product's
// category and stores files and record together.
func (s *CoreService) CreateOrder(ctx context.Context, request OrderRequest) (database.Order, error) {
	request.Product = strings.TrimSpace(request.Product)
	request.Phone = strings.TrimSpace(request.Phone)
	if request.Product == "" || request.Phone == "" {
		return database.Order{}, invalidf("product and phone are required")
	}

	category := s.config.CategoryFor(request.Product)
	if err := validateUploads(category, request); err != nil {
		return database.Order{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.files.ListDir(ctx, categoryDir(category.Name))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return database.Order{}, fmt.Errorf("failed to list %s folders: %w", category.Name, err)
	}
	number := nextFolderNumber(entries, category.Name)
	folder := folderName(category.Name, number)

	order := database.Order{
		Phone:     request.Phone,
		Product:   request.Product,
		CreatedAt: request.Date,
		Status:    request.Status,
		Folder:    folder,
	}
	if order.CreatedAt == "" {
		order.CreatedAt = time.Now().In(s.location).Format(DateLayout)
	}
	if order.Status == "" {
		order.Status = s.config.InitialStatus
	}

	changes := storage.Changeset{Message: s.commitMessage(fmt.Sprintf("New order: %s - %s", request.Product, folder))}
	accepted := acceptedSlots(category.Policy)
	store := func(slot, prefix string) (*string, error) {
		if !request.has(slot) || !slices.Contains(accepted, slot) {
			return nil, nil
		}
		upload := request.Files[slot]
		name := fmt.Sprintf("%s_%s_%d%s", prefix, category.Name, number, extension(upload.Filename))
		filePath := folderPath(category.Name, folder) + "/" + name
		publicURL, err := s.files.URL(ctx, filePath)
		if err != nil {
			return nil, err
		}
		changes.Files = append(changes.Files, storage.File{Path: filePath, Content: upload.Content})
		return &publicURL, nil
	}

	var stored [5]*string
	for i, slot := range []struct{ name, prefix string }{
		{SlotImage, "lamina"},
		{SlotFront, "lamina_frontal"},
		{SlotBack, "lamina_espaldar"},
		{SlotTemplate, "plantilla"},
		{SlotDesignPhoto, "foto_usada_en"},
	} {
		if stored[i], err = store(slot.name, slot.prefix); err != nil {
			return database.Order{}, fmt.Errorf("failed to prepare %s: %w", slot.name, err)
		}
	}
	image, front, back, template := stored[0], stored[1], stored[2], stored[3]
	order.DesignPhotoURL = stored[4]

	if category.Policy == PolicyBounded {
		order.Images = &database.SheetImages{Front: front, Back: back}
		image = front
		if image == nil {
			image = back
		}
	}
	if image == nil {
		image = template
	}
	if image != nil {
		order.ImageURL = *image
	}

	if err := s.databaseService.AppendOrder(ctx, order, changes); err != nil {
		return database.Order{}, fmt.Errorf("failed to save order %s: %w", folder, err)
	}

	slog.Info("order created",
		"folder", folder,
		"category", category.Name,
		"file_count", len(changes.Files),
		"storage", s.files.Type())
	return order, nil
}

// extension returns the lower-cased extension of a client file name, or ""
// when it contains anything but letters and digits.
func extension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if !safeExtension.MatchString(ext) {
		return ""
	}
	return ext
}

func validateUploads(category CategoryConfig, request OrderRequest) error {
	rule := category.Rule()

	accepted := acceptedSlots(category.Policy)
	for _, slot := range Slots {
		if request.has(slot) && !slices.Contains(accepted, slot) {
			return invalidf("%s is not accepted for %s orders", slot, category.Name)
		}
	}

	var sheets []string
	switch category.Policy {
	case PolicyBounded:
		if !request.has(SlotFront) && !request.has(SlotBack) {
			return invalidf("%s orders need at least one sheet (front or back)", category.Name)
		}
		if !request.has(SlotTemplate) {
			return invalidf("%s orders need a template file", category.Name)
		}
		sheets = []string{SlotFront, SlotBack}
	default:
		if !request.has(SlotImage) || !request.has(SlotTemplate) {
			return invalidf("missing files: image and template are required")
		}
		sheets = []string{SlotImage}
	}

	for _, slot := range sheets {
		if !request.has(slot) {
			continue
		}
		if _, err := rule.Validate(request.Files[slot].Content); err != nil {
			var dimensionErr *imagecheck.DimensionError
			if errors.As(err, &dimensionErr) {
				return invalidf("%s: %v", slot, err)
			}
			return invalidf("%s is not a valid image: %v", slot, err)
		}
	}
	return nil
}

// UpdateStatus sets the status of the orders referencing imageURL.
func (s *CoreService) UpdateStatus(ctx context.Context, imageURL, status string) error {
	imageURL = strings.TrimSpace(imageURL)
	status = strings.TrimSpace(status)
	if imageURL == "" || status == "" {
		return invalidf("image url and status are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message := s.commitMessage("Update status to " + status)
	if err := s.databaseService.UpdateStatus(ctx, imageURL, status, message); err != nil {
		return err
	}
	slog.Info("order status updated", "image_url", imageURL, "status", status)
	return nil
}

func (s *CoreService) ListOrders(ctx context.Context) ([]database.Order, error) {
	return s.databaseService.GetOrders(ctx)
}

// ImagePath returns the store path of the order's main image, read from the
// trailing img/<category>/<folder>/<file> segments of its public URL. It is
// empty when the URL does not end in the order's folder.
func ImagePath(order database.Order) string {
	parsed, err := url.Parse(order.ImageURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	n := len(segments)
	if n < 4 || segments[n-4] != imageRoot || segments[n-1] == "" {
		return ""
	}
	if order.Folder != "" && segments[n-2] != order.Folder {
		return ""
	}
	return strings.Join(segments[n-4:], "/")
}

func (s *CoreService) commitMessage(message string) string {
	if suffix := strings.TrimSpace(s.config.Storage.GitHub.CommitSuffix); suffix != "" {
		return message + " " + suffix
	}
	return message
}
