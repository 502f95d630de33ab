// internal/browsertest/fake.go
//
// Package browsertest provides a scriptable in-memory Driver used by the
// engine component tests. Selector matching is exact string comparison, which
// keeps fixtures declarative without emulating CSS.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
)

// Node is one fake DOM element.
type Node struct {
	Sel      string
	Text     string
	Visible  bool
	Enabled  bool
	Children []*Node

	// ClickErr, when non-nil, is returned by Click on this node. Decremented
	// via ClickErrTimes to simulate transient interaction failures.
	ClickErr      error
	ClickErrTimes int
}

// NewNode builds a visible, enabled node.
func NewNode(sel, text string, children ...*Node) *Node {
	return &Node{Sel: sel, Text: text, Visible: true, Enabled: true, Children: children}
}

type fakeRef struct{ node *Node }

func (r *fakeRef) Selector() string { return r.node.Sel }

// Fake is a scriptable schemas.Driver.
type Fake struct {
	mu sync.Mutex

	URL   string
	Roots []*Node

	// NavigateErrs maps a URL to the error Navigate returns for it.
	NavigateErrs map[string]error
	// OnNavigate, when set, runs after each successful Navigate.
	OnNavigate func(url string)

	// ScrollParentFor returns the scrollable ancestor handed out by
	// ScrollParent; nil means no ancestor resolves.
	ScrollParentFor *Node
	Metrics         schemas.ScrollMetrics
	// OnScroll runs on SetScrollOffset so fixtures can grow the list.
	OnScroll func(offset float64)

	NavigatedTo []string
	Clicked     []string
	Filled      map[string]string

	CloseCount int
	CloseErr   error

	// EvalErr is returned by every Evaluate call when set.
	EvalErr error
}

var _ schemas.Driver = (*Fake)(nil)

// New builds an empty fake.
func New() *Fake {
	return &Fake{Filled: make(map[string]string)}
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	f.NavigatedTo = append(f.NavigatedTo, url)
	err := f.NavigateErrs[url]
	hook := f.OnNavigate
	if err == nil {
		f.URL = url
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(url)
	}
	return nil
}

func (f *Fake) WaitForLoad(ctx context.Context) error { return ctx.Err() }

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

// SetURL scripts the page location without a navigation.
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.URL = url
}

func findAll(nodes []*Node, sel string, out *[]*Node) {
	for _, n := range nodes {
		if n.Sel == sel {
			*out = append(*out, n)
		}
		findAll(n.Children, sel, out)
	}
}

func (f *Fake) Locate(ctx context.Context, selector string) (schemas.ElementRef, error) {
	refs, err := f.LocateAll(ctx, selector)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return refs[0], nil
}

func (f *Fake) LocateAll(ctx context.Context, selector string) ([]schemas.ElementRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*Node
	findAll(f.Roots, selector, &matches)
	return wrap(matches), nil
}

func (f *Fake) LocateIn(ctx context.Context, root schemas.ElementRef, selector string) (schemas.ElementRef, error) {
	refs, err := f.LocateAllIn(ctx, root, selector)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return refs[0], nil
}

func (f *Fake) LocateAllIn(ctx context.Context, root schemas.ElementRef, selector string) ([]schemas.ElementRef, error) {
	node, err := unwrap(root)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*Node
	findAll(node.Children, selector, &matches)
	return wrap(matches), nil
}

func (f *Fake) Click(ctx context.Context, ref schemas.ElementRef) error {
	node, err := unwrap(ref)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if node.ClickErr != nil && (node.ClickErrTimes > 0 || node.ClickErrTimes == -1) {
		if node.ClickErrTimes > 0 {
			node.ClickErrTimes--
		}
		return node.ClickErr
	}
	f.Clicked = append(f.Clicked, node.Sel)
	return nil
}

func (f *Fake) Fill(ctx context.Context, ref schemas.ElementRef, text string) error {
	node, err := unwrap(ref)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Filled[node.Sel] = text
	return nil
}

func (f *Fake) TextContent(ctx context.Context, ref schemas.ElementRef) (string, error) {
	node, err := unwrap(ref)
	if err != nil {
		return "", err
	}
	return node.Text, nil
}

func (f *Fake) BoundingBox(ctx context.Context, ref schemas.ElementRef) (schemas.Rect, error) {
	if _, err := unwrap(ref); err != nil {
		return schemas.Rect{}, err
	}
	return schemas.Rect{Width: 100, Height: 40}, nil
}

func (f *Fake) IsVisible(ctx context.Context, ref schemas.ElementRef) (bool, error) {
	node, err := unwrap(ref)
	if err != nil {
		return false, err
	}
	return node.Visible, nil
}

func (f *Fake) IsEnabled(ctx context.Context, ref schemas.ElementRef) (bool, error) {
	node, err := unwrap(ref)
	if err != nil {
		return false, err
	}
	return node.Enabled, nil
}

func (f *Fake) ScrollParent(ctx context.Context, ref schemas.ElementRef) (schemas.ElementRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScrollParentFor == nil {
		return nil, nil
	}
	return &fakeRef{node: f.ScrollParentFor}, nil
}

func (f *Fake) ScrollMetrics(ctx context.Context, ref schemas.ElementRef) (schemas.ScrollMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Metrics, nil
}

func (f *Fake) SetScrollOffset(ctx context.Context, ref schemas.ElementRef, offset float64) error {
	f.mu.Lock()
	f.Metrics.Offset = offset
	hook := f.OnScroll
	f.mu.Unlock()
	if hook != nil {
		hook(offset)
	}
	return nil
}

func (f *Fake) Evaluate(ctx context.Context, expression string, out any) error {
	return f.EvalErr
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCount++
	return f.CloseErr
}

func wrap(nodes []*Node) []schemas.ElementRef {
	refs := make([]schemas.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, &fakeRef{node: n})
	}
	return refs
}

func unwrap(ref schemas.ElementRef) (*Node, error) {
	fr, ok := ref.(*fakeRef)
	if !ok || fr == nil {
		return nil, fmt.Errorf("foreign element handle %v", ref)
	}
	return fr.node, nil
}
