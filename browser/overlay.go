package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/feedshot/capture"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/selector"
)

const overlayBinding = "__feedshotSelect"

// installOverlay draws a full-viewport crosshair layer with a cancel button
// and forwards its input to the binding. The layer carries the exclusion
// attribute so it never shows up in a capture.
const installOverlay = `(binding, attr) => {
	const send = (e) => window[binding](e);
	const root = document.createElement('div');
	root.id = '__feedshot_overlay';
	root.setAttribute(attr, '');
	root.style.cssText = 'position:fixed;inset:0;z-index:2147483647;cursor:crosshair;background:rgba(0,0,0,0.25);user-select:none';

	const rect = document.createElement('div');
	rect.id = '__feedshot_rect';
	rect.style.cssText = 'position:fixed;display:none;border:2px dashed #3b82f6;background:rgba(59,130,246,0.1);pointer-events:none';
	root.appendChild(rect);

	const hint = document.createElement('div');
	hint.textContent = 'Drag to select an area. Press Esc to cancel.';
	hint.style.cssText = 'position:fixed;top:16px;left:50%;transform:translateX(-50%);padding:6px 12px;border-radius:6px;background:#111827;color:#fff;font:13px sans-serif;pointer-events:none';
	root.appendChild(hint);

	const cancel = document.createElement('button');
	cancel.textContent = 'Cancel';
	cancel.dataset.exempt = '1';
	cancel.style.cssText = 'position:fixed;top:12px;right:12px;padding:6px 12px;cursor:pointer';
	cancel.addEventListener('click', (e) => { e.stopPropagation(); send({type: 'cancel'}); });
	root.appendChild(cancel);

	const point = (type) => (e) => send({type, x: e.clientX, y: e.clientY, exempt: !!(e.target.dataset && e.target.dataset.exempt)});
	root.addEventListener('mousedown', point('pointerdown'));
	root.addEventListener('mousemove', point('pointermove'));
	root.addEventListener('mouseup', point('pointerup'));
	window.__feedshotKey = (e) => send({type: 'keydown', key: e.key});
	document.addEventListener('keydown', window.__feedshotKey, true);

	document.documentElement.appendChild(root);
}`

const removeOverlay = `() => {
	const root = document.getElementById('__feedshot_overlay');
	if (root) root.remove();
	if (window.__feedshotKey) document.removeEventListener('keydown', window.__feedshotKey, true);
	delete window.__feedshotKey;
}`

const showRect = `(l, t, w, h) => {
	const r = document.getElementById('__feedshot_rect');
	if (!r) return;
	if (w <= 0 || h <= 0) { r.style.display = 'none'; return; }
	Object.assign(r.style, {display: 'block', left: l + 'px', top: t + 'px', width: w + 'px', height: h + 'px'});
}`

// Overlay is an in-page selection layer whose input is exposed as a
// selector.Source.
type Overlay struct {
	tab  *Tab
	feed *selector.Feed
	stop func() error
}

// OpenOverlay installs the selection layer on the tab.
func (t *Tab) OpenOverlay(ctx context.Context) (*Overlay, error) {
	o := &Overlay{tab: t, feed: selector.NewFeed()}
	page := t.Page.Context(ctx)

	stop, err := page.Expose(overlayBinding, func(j gson.JSON) (interface{}, error) {
		ev, err := decodeEvent(j)
		if err != nil {
			t.log.Debug("browser: overlay event dropped", "error", err)
			return nil, nil
		}
		o.feed.Send(ev)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("browser: expose overlay binding: %w", err)
	}
	o.stop = stop

	if _, err := page.Eval(installOverlay, overlayBinding, capture.ExcludeAttr); err != nil {
		stop()
		return nil, fmt.Errorf("browser: install overlay: %w", err)
	}
	return o, nil
}

// Source returns the overlay's event stream.
func (o *Overlay) Source() selector.Source { return o.feed }

// Show draws r as the live selection; an empty r hides it.
func (o *Overlay) Show(r geom.Rect) {
	if _, err := o.tab.Page.Eval(showRect, r.Left, r.Top, r.Width, r.Height); err != nil {
		o.tab.log.Debug("browser: overlay update", "error", err)
	}
}

// Close removes the layer and its binding.
func (o *Overlay) Close() error {
	_, err := o.tab.Page.Eval(removeOverlay)
	if o.stop != nil {
		err = errors.Join(err, o.stop())
		o.stop = nil
	}
	return err
}

// decodeEvent converts an overlay payload into a selector event.
func decodeEvent(j gson.JSON) (selector.Event, error) {
	name := j.Get("type").Str()
	kind := selector.ParseKind(name)
	if kind == 0 {
		return selector.Event{}, fmt.Errorf("unknown event %q", name)
	}
	ev := selector.Event{
		Kind:   kind,
		Pos:    geom.Pt(j.Get("x").Num(), j.Get("y").Num()),
		Exempt: j.Get("exempt").Bool(),
	}
	// Str renders a missing field as "<nil>".
	if k := j.Get("key"); !k.Nil() {
		ev.Key = k.Str()
	}
	return ev, nil
}
