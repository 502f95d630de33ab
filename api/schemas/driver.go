// api/schemas/driver.go
package schemas

import "context"

// ElementRef is an opaque handle to an element located by the Driver. Handles
// may silently detach when the page re-renders, so callers must re-resolve
// rather than cache them across suspension points.
type ElementRef interface {
	// Selector returns a human-readable description of how the element was
	// located, for logs and error context.
	Selector() string
}

// Rect is an element's bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScrollMetrics reports the scroll geometry of an element: the current offset,
// the visible (client) height and the total scrollable height.
type ScrollMetrics struct {
	Offset  float64 `json:"offset"`
	Visible float64 `json:"visible"`
	Total   float64 `json:"total"`
}

// Driver is the page automation contract consumed by the engine. Every call is
// blocking, carries a context and may fail with driver-specific errors that the
// engine wraps into its own taxonomy. A Driver instance owns exactly one
// browser session and must not be shared across concurrent runs.
type Driver interface {
	// Navigate loads the URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// WaitForLoad blocks until the document is ready.
	WaitForLoad(ctx context.Context) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// Locate returns the first element matching the selector, or nil if none
	// is currently rendered. Absence is not an error.
	Locate(ctx context.Context, selector string) (ElementRef, error)
	// LocateAll returns every element currently matching the selector.
	LocateAll(ctx context.Context, selector string) ([]ElementRef, error)
	// LocateIn and LocateAllIn scope the query to descendants of root.
	LocateIn(ctx context.Context, root ElementRef, selector string) (ElementRef, error)
	LocateAllIn(ctx context.Context, root ElementRef, selector string) ([]ElementRef, error)

	Click(ctx context.Context, el ElementRef) error
	Fill(ctx context.Context, el ElementRef, text string) error
	TextContent(ctx context.Context, el ElementRef) (string, error)
	BoundingBox(ctx context.Context, el ElementRef) (Rect, error)
	IsVisible(ctx context.Context, el ElementRef) (bool, error)
	IsEnabled(ctx context.Context, el ElementRef) (bool, error)

	// ScrollParent resolves the nearest scrollable ancestor of el, or nil if
	// no ancestor can scroll. The result must be re-resolved every iteration;
	// a previously resolved handle may have gone stale after a re-render.
	ScrollParent(ctx context.Context, el ElementRef) (ElementRef, error)
	ScrollMetrics(ctx context.Context, el ElementRef) (ScrollMetrics, error)
	SetScrollOffset(ctx context.Context, el ElementRef, offset float64) error

	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// result into out (may be nil).
	Evaluate(ctx context.Context, expression string, out any) error
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close terminates the browser session. Idempotent and time-boxed.
	Close(ctx context.Context) error
}
