package host

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Host owns grids and is the unit listeners connect under.
type Host struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name" validate:"required,max=100"`
	CreatedAt time.Time `json:"createdAt"`
}

// Grid is a board of cells. Owner is the id of the host it belongs to.
type Grid struct {
	ID        string    `json:"_id"`
	Owner     string    `json:"owner" validate:"required,uuid"`
	Cells     [][]Cell  `json:"grid" validate:"required,min=1,max=100,dive,min=1,max=100,dive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cell is one square of a grid.
type Cell struct {
	Value    string `json:"value" validate:"max=16"`
	Editable bool   `json:"editable"`
	Color    string `json:"color,omitempty" validate:"omitempty,max=32"`
}

// NewID returns a fresh random id.
func NewID() string {
	return uuid.NewString()
}

// ParseID checks that s is a uuid and returns it in canonical form.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id.String(), nil
}
