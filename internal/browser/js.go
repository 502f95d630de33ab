// internal/browser/js.go
package browser

// scrollParentJS defines __scrollParent, a walk up the ancestor chain looking
// for the nearest element that actually overflows vertically. The document
// scrolling element is returned only when it can scroll itself; otherwise the
// walk reports null so callers can tell "nothing to scroll" apart from "page
// scrolls".
const scrollParentJS = `
const __scrollParent = (node) => {
	const scrollable = (el) => {
		if (!el) return false;
		let style;
		try {
			style = window.getComputedStyle(el);
		} catch (e) {
			return false;
		}
		const overflow = style.overflowY;
		const can = overflow === 'auto' || overflow === 'scroll';
		return can && el.scrollHeight > el.clientHeight + 1;
	};
	let cur = node.parentElement;
	while (cur && cur !== document.body && cur !== document.documentElement) {
		if (scrollable(cur)) return cur;
		cur = cur.parentElement;
	}
	const root = document.scrollingElement || document.documentElement;
	if (root && root.scrollHeight > root.clientHeight + 1) return root;
	return null;
};
`
