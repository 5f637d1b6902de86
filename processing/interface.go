package processing

import (
	"image"

	"github.com/go-spatial/geom"

	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/tile"
	"github.com/pdok/utmtiler/vector"
)

// Cell is one analysis cell in processing order.
type Cell struct {
	Seq      int
	Quadrant grid.Quadrant
	Bounds   geom.Extent
}

// Result is the (image, label mask, labels) triple of one cell.
type Result struct {
	Cell   Cell
	Tile   *tile.Tile
	Labels *vector.Collection
	Mask   *image.Gray
}

// Target consumes results until the channel is closed.
type Target interface {
	WriteResults(<-chan Result) error
}
