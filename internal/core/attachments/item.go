package attachments

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"Courier/internal/core/blobs"
)

// ErrInvalidItem is returned for attachments that cannot be uploaded
var ErrInvalidItem = errors.New("invalid attachment")

// Item is a file picked in the composer. ID is stable for the lifetime of the selection.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// NewItem creates an item with a fresh ID and a resolved MIME type
func NewItem(name, mimeType string, data []byte) *Item {
	return &Item{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: blobs.ResolveMimeType(mimeType, data),
		Data:     data,
	}
}

// Size returns the payload length in bytes
func (i *Item) Size() int64 {
	return int64(len(i.Data))
}

// Validate checks the item can be uploaded and normalises its MIME type
func (i *Item) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: nil item", ErrInvalidItem)
	}
	if i.ID == "" {
		return fmt.Errorf("%w: missing identifier", ErrInvalidItem)
	}
	if err := blobs.ValidateSize(i.Size()); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidItem, i.ID, err)
	}
	i.MimeType = blobs.ResolveMimeType(i.MimeType, i.Data)
	return nil
}
