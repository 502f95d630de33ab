// internal/browser/element.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
)

// element addresses a DOM node by its query path rather than by a live CDP
// handle. Every operation re-resolves the path inside the page, so a DOM
// re-render between calls produces a clean "element vanished" failure instead
// of acting on a detached node.
type element struct {
	parent       *element
	selector     string
	index        int
	scrollParent bool
}

var _ schemas.ElementRef = (*element)(nil)

func (e *element) Selector() string {
	var parts []string
	for cur := e; cur != nil; cur = cur.parent {
		part := fmt.Sprintf("%s[%d]", cur.selector, cur.index)
		if cur.scrollParent {
			part = "scrollparent(" + part + ")"
		}
		parts = append([]string{part}, parts...)
	}
	return strings.Join(parts, " >> ")
}

// resolveJS emits a JavaScript expression evaluating to the addressed element
// or null.
func (e *element) resolveJS() string {
	var chain []*element
	for cur := e; cur != nil; cur = cur.parent {
		chain = append([]*element{cur}, chain...)
	}

	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString(scrollParentJS)
	b.WriteString("let el = document;\n")
	for _, link := range chain {
		fmt.Fprintf(&b, "el = el.querySelectorAll(%q)[%d]; if (!el) return null;\n",
			link.selector, link.index)
		if link.scrollParent {
			b.WriteString("el = __scrollParent(el); if (!el) return null;\n")
		}
	}
	return b.String()
}

// asElement narrows a schemas.ElementRef back to this driver's handle type.
func asElement(ref schemas.ElementRef) (*element, error) {
	el, ok := ref.(*element)
	if !ok || el == nil {
		return nil, fmt.Errorf("element handle %v does not belong to this driver", ref)
	}
	return el, nil
}

// evalOnElement resolves the element and runs op (a JS statement block with
// `el` in scope) against it, unmarshaling the returned value into out.
func (d *Driver) evalOnElement(ctx context.Context, ref schemas.ElementRef, op string, out any) error {
	el, err := asElement(ref)
	if err != nil {
		return err
	}
	script := el.resolveJS() + op + "\n})()"
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("operation on %s failed: %w", el.Selector(), err)
	}
	return nil
}

// Locate returns the first element matching the selector, or nil when none is
// rendered.
func (d *Driver) Locate(ctx context.Context, selector string) (schemas.ElementRef, error) {
	refs, err := d.locateAll(ctx, nil, selector, 1)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs[0], nil
}

// LocateAll returns every element currently matching the selector.
func (d *Driver) LocateAll(ctx context.Context, selector string) ([]schemas.ElementRef, error) {
	return d.locateAll(ctx, nil, selector, 0)
}

// LocateIn returns the first descendant of root matching the selector, or nil.
func (d *Driver) LocateIn(ctx context.Context, root schemas.ElementRef, selector string) (schemas.ElementRef, error) {
	rootEl, err := asElement(root)
	if err != nil {
		return nil, err
	}
	refs, err := d.locateAll(ctx, rootEl, selector, 1)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs[0], nil
}

// LocateAllIn returns every descendant of root matching the selector.
func (d *Driver) LocateAllIn(ctx context.Context, root schemas.ElementRef, selector string) ([]schemas.ElementRef, error) {
	rootEl, err := asElement(root)
	if err != nil {
		return nil, err
	}
	return d.locateAll(ctx, rootEl, selector, 0)
}

func (d *Driver) locateAll(ctx context.Context, root *element, selector string, limit int) ([]schemas.ElementRef, error) {
	var script string
	if root != nil {
		script = root.resolveJS() + fmt.Sprintf("return el.querySelectorAll(%q).length;\n})()", selector)
	} else {
		script = fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	}

	var count int
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.Evaluate(script, &count)); err != nil {
		return nil, fmt.Errorf("locate %q failed: %w", selector, err)
	}
	if limit > 0 && count > limit {
		count = limit
	}

	refs := make([]schemas.ElementRef, 0, count)
	for i := 0; i < count; i++ {
		refs = append(refs, &element{parent: root, selector: selector, index: i})
	}
	return refs, nil
}

// Click scrolls the element into view and performs a real mouse click at the
// element's center.
func (d *Driver) Click(ctx context.Context, ref schemas.ElementRef) error {
	var rect schemas.Rect
	err := d.evalOnElement(ctx, ref, `
el.scrollIntoView({block: 'center', inline: 'nearest'});
const r = el.getBoundingClientRect();
return {x: r.x, y: r.y, width: r.width, height: r.height};`, &rect)
	if err != nil {
		return err
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return fmt.Errorf("element %s has no clickable area", ref.Selector())
	}

	x := rect.X + rect.Width/2
	y := rect.Y + rect.Height/2
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("click on %s failed: %w", ref.Selector(), err)
	}
	d.logger.Debug("Clicked element.", zap.String("element", ref.Selector()))
	return nil
}

// Fill focuses the element, clears it and inserts text through the CDP input
// domain so the page sees ordinary typed input.
func (d *Driver) Fill(ctx context.Context, ref schemas.ElementRef, text string) error {
	err := d.evalOnElement(ctx, ref, `
el.scrollIntoView({block: 'center', inline: 'nearest'});
el.focus();
if ('value' in el) {
	el.value = '';
	el.dispatchEvent(new Event('input', {bubbles: true}));
}
return true;`, nil)
	if err != nil {
		return err
	}
	if err := d.run(ctx, d.cfg.Network.ActionTimeout, input.InsertText(text)); err != nil {
		return fmt.Errorf("typing into %s failed: %w", ref.Selector(), err)
	}
	return nil
}

// TextContent returns the element's trimmed text, or "" when the element has
// vanished.
func (d *Driver) TextContent(ctx context.Context, ref schemas.ElementRef) (string, error) {
	var text string
	err := d.evalOnElement(ctx, ref, `return (el.textContent || '').trim();`, &text)
	if err != nil {
		return "", err
	}
	return text, nil
}

// BoundingBox returns the element's bounding rectangle in page coordinates.
func (d *Driver) BoundingBox(ctx context.Context, ref schemas.ElementRef) (schemas.Rect, error) {
	var rect schemas.Rect
	err := d.evalOnElement(ctx, ref, `
const r = el.getBoundingClientRect();
return {x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height};`, &rect)
	return rect, err
}

// IsVisible reports whether the element takes up space and is not hidden by
// style.
func (d *Driver) IsVisible(ctx context.Context, ref schemas.ElementRef) (bool, error) {
	var visible bool
	err := d.evalOnElement(ctx, ref, `
const r = el.getBoundingClientRect();
if (r.width <= 0 || r.height <= 0) return false;
const s = window.getComputedStyle(el);
return s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';`, &visible)
	return visible, err
}

// IsEnabled reports whether the element accepts interaction.
func (d *Driver) IsEnabled(ctx context.Context, ref schemas.ElementRef) (bool, error) {
	var enabled bool
	err := d.evalOnElement(ctx, ref, `
if (el.disabled) return false;
return el.getAttribute('aria-disabled') !== 'true';`, &enabled)
	return enabled, err
}

// ScrollParent resolves the nearest scrollable ancestor of el. Returns nil
// when nothing above the element can scroll. The returned handle re-walks the
// ancestor chain on every use, so it never goes stale.
func (d *Driver) ScrollParent(ctx context.Context, ref schemas.ElementRef) (schemas.ElementRef, error) {
	el, err := asElement(ref)
	if err != nil {
		return nil, err
	}

	var found bool
	parent := &element{parent: el.parent, selector: el.selector, index: el.index, scrollParent: true}
	if err := d.evalOnElement(ctx, parent, `return true;`, &found); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return parent, nil
}

// ScrollMetrics reports the element's scroll geometry.
func (d *Driver) ScrollMetrics(ctx context.Context, ref schemas.ElementRef) (schemas.ScrollMetrics, error) {
	var m schemas.ScrollMetrics
	err := d.evalOnElement(ctx, ref, `
return {offset: el.scrollTop, visible: el.clientHeight, total: el.scrollHeight};`, &m)
	return m, err
}

// SetScrollOffset moves the element's vertical scroll position.
func (d *Driver) SetScrollOffset(ctx context.Context, ref schemas.ElementRef, offset float64) error {
	op := fmt.Sprintf(`el.scrollTop = %f; return el.scrollTop;`, offset)
	var applied float64
	return d.evalOnElement(ctx, ref, op, &applied)
}
