package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jo-hoe/goprint/internal/backend/storage"
)

const documentIndent = "    "

// JSONDatabase keeps all orders as one JSON array document in the file store.
// Changes are applied as JSON patches so fields written by other tools survive.
type JSONDatabase struct {
	documentPath string
	files        storage.FileStore
}

func NewJSONDatabase(documentPath string, files storage.FileStore) (DatabaseService, error) {
	if files == nil {
		return nil, fmt.Errorf("json database requires a file store")
	}
	cleaned, err := storage.CleanPath(documentPath)
	if err != nil {
		return nil, fmt.Errorf("invalid order document path: %w", err)
	}
	return &JSONDatabase{documentPath: cleaned, files: files}, nil
}

// CreateDatabase is a no-op; the document is created with the first order.
func (s *JSONDatabase) CreateDatabase() error {
	return nil
}

func (s *JSONDatabase) DoesDatabaseExist() bool {
	_, err := s.files.ReadFile(context.Background(), s.documentPath)
	return err == nil
}

func (s *JSONDatabase) Close() error {
	return nil
}

func (s *JSONDatabase) GetOrders(ctx context.Context) ([]Order, error) {
	document, err := s.readDocument(ctx)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(document, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse order document %s: %w", s.documentPath, err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func (s *JSONDatabase) AppendOrder(ctx context.Context, order Order, changes storage.Changeset) error {
	document, err := s.readDocument(ctx)
	if err != nil {
		return err
	}
	value, err := encodeValue(order)
	if err != nil {
		return err
	}
	document, err = patchDocument(document, []patchOperation{{Op: "add", Path: "/-", Value: value}})
	if err != nil {
		return fmt.Errorf("failed to append to order document %s: %w", s.documentPath, err)
	}

	files := make([]storage.File, 0, len(changes.Files)+1)
	files = append(files, changes.Files...)
	files = append(files, storage.File{Path: s.documentPath, Content: document})

	if err := s.files.Apply(ctx, storage.Changeset{Message: changes.Message, Files: files}); err != nil {
		return fmt.Errorf("failed to store order: %w", err)
	}
	return nil
}

// UpdateStatus patches the estado of every record referencing imageURL.
// Keys the Order type does not know about stay untouched.
func (s *JSONDatabase) UpdateStatus(ctx context.Context, imageURL, status, message string) error {
	document, err := s.readDocument(ctx)
	if err != nil {
		return err
	}

	var records []struct {
		ImageURL string `json:"imagen_url"`
	}
	if err := json.Unmarshal(document, &records); err != nil {
		return fmt.Errorf("failed to parse order document %s: %w", s.documentPath, err)
	}
	value, err := encodeValue(status)
	if err != nil {
		return err
	}
	var operations []patchOperation
	for i, record := range records {
		if record.ImageURL == imageURL {
			// add replaces an existing member and creates a missing one
			operations = append(operations, patchOperation{Op: "add", Path: fmt.Sprintf("/%d/estado", i), Value: value})
		}
	}
	if len(operations) == 0 {
		return ErrOrderNotFound
	}

	document, err = patchDocument(document, operations)
	if err != nil {
		return fmt.Errorf("failed to update order document %s: %w", s.documentPath, err)
	}
	err = s.files.Apply(ctx, storage.Changeset{
		Message: message,
		Files:   []storage.File{{Path: s.documentPath, Content: document}},
	})
	if err != nil {
		return fmt.Errorf("failed to store order document: %w", err)
	}
	return nil
}

// readDocument returns the stored document, or an empty array when there is none yet.
func (s *JSONDatabase) readDocument(ctx context.Context) ([]byte, error) {
	data, err := s.files.ReadFile(ctx, s.documentPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []byte("[]"), nil
		}
		return nil, fmt.Errorf("failed to read order document: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("[]"), nil
	}
	return data, nil
}

type patchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// patchDocument applies RFC 6902 operations and re-indents the result with
// four spaces. Untouched records keep their keys, null values and key order.
func patchDocument(document []byte, operations []patchOperation) ([]byte, error) {
	raw, err := json.Marshal(operations)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, err
	}
	patched, err := patch.ApplyIndent(document, documentIndent)
	if err != nil {
		return nil, err
	}
	return append(patched, '\n'), nil
}

func encodeValue(value any) (json.RawMessage, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
