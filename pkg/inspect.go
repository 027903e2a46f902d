package pkg

import (
	"fmt"
	"io"
	"strings"

	"github.com/ecopia-map/tiles_streamer/internal/tileset"
)

// Inspect writes a summary of ts and its tree down to maxDepth levels below the root tile.
// Only materialized tiles are listed, implicit subtrees and nested tilesets show up as
// unresolved.
func Inspect(w io.Writer, ts *tileset.Tileset, maxDepth int) error {
	if _, err := fmt.Fprintf(w, "tileset %s\n  id %s, %s tiling, version %s, %d tiles, units %s\n",
		ts.URI, ts.ID, ts.Tiling, ts.Version, ts.Count(), ts.Units); err != nil {
		return err
	}
	if len(ts.ExtensionsUsed) > 0 {
		fmt.Fprintf(w, "  extensions used: %s\n", strings.Join(ts.ExtensionsUsed, ", "))
	}
	for _, warning := range ts.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}

	var err error
	ts.Walk(func(t *tileset.Tile) bool {
		if t == ts.Root() {
			return true
		}
		depth := t.Depth - ts.Root().Depth - 1
		if err != nil || depth > maxDepth {
			return false
		}
		_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth+1), describe(t))
		return true
	})
	return err
}

func describe(t *tileset.Tile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error %.3f %s", t, t.GeometricError, t.Refine)
	if t.Content != nil {
		fmt.Fprintf(&b, " %s %s", t.Content.Kind, t.Content.URI)
	}
	switch {
	case t.NeedsResolution():
		b.WriteString(" [unresolved]")
	case len(t.Children()) > 0:
		fmt.Fprintf(&b, " [%d children]", len(t.Children()))
	}
	return b.String()
}
