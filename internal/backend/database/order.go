package database

// SheetImages holds the front and back sheet URLs of a shirt order.
type SheetImages struct {
	Front *string `json:"frontal"`
	Back  *string `json:"espaldar"`
}

// Order is a customer's print job. JSON keys match the existing order document.
type Order struct {
	Phone          string       `json:"telefono"`
	Product        string       `json:"producto"`
	CreatedAt      string       `json:"fecha"`
	Status         string       `json:"estado"`
	ImageURL       string       `json:"imagen_url"`
	Images         *SheetImages `json:"imagenes,omitempty"`
	DesignPhotoURL *string      `json:"foto_diseno_url,omitempty"`
	Folder         string       `json:"carpeta,omitempty"`
}
