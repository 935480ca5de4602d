package touch

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

// domPrelude is just enough of a document for the scripts to run against.
const domPrelude = `
var __now = 1000;
Date.now = function () { return __now; };
var __frames = [];
var __scrolled = { x: 0, y: 0, calls: 0 };
var __intervals = 0;

function makeElement(tag) {
	var classes = [];
	return {
		tagName: tag.toUpperCase(),
		style: {},
		children: [],
		classList: {
			add: function (c) { if (classes.indexOf(c) < 0) classes.push(c); },
			remove: function (c) { var i = classes.indexOf(c); if (i >= 0) classes.splice(i, 1); },
			contains: function (c) { return classes.indexOf(c) >= 0; }
		},
		appendChild: function (child) { this.children.push(child); child.parentElement = this; return child; }
	};
}

var __handlers = {};
var document = {
	createElement: makeElement,
	addEventListener: function (type, fn) { (__handlers[type] = __handlers[type] || []).push(fn); },
	querySelectorAll: function () { return []; },
	querySelector: function () { return null; }
};
document.documentElement = makeElement('html');
document.head = makeElement('head');
document.body = makeElement('body');
document.body.parentElement = document.documentElement;

var window = {
	getComputedStyle: function () { return { overflowX: 'visible', overflowY: 'visible' }; },
	scrollBy: function (x, y) { __scrolled.x += x; __scrolled.y += y; __scrolled.calls++; },
	requestAnimationFrame: function (fn) { __frames.push(fn); return __frames.length; },
	cancelAnimationFrame: function () { __frames = []; },
	setInterval: function () { __intervals++; return __intervals; }
};

function __fire(type, ev) {
	ev = ev || {};
	ev.preventDefault = function () { ev.defaultPrevented = true; };
	var hs = __handlers[type] || [];
	for (var i = 0; i < hs.length; i++) hs[i](ev);
	return ev;
}

function __pump() {
	var n = 0;
	while (__frames.length > 0 && n < 1000) {
		var fn = __frames.shift();
		fn();
		n++;
	}
	return n;
}

var __div = makeElement('div');
document.body.appendChild(__div);
var __input = makeElement('input');
document.body.appendChild(__input);
`

func newDOM(t *testing.T) *goja.Runtime {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(domPrelude)
	require.NoError(t, err)
	return vm
}

func run(t *testing.T, vm *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v
}

func TestScriptsParse(t *testing.T) {
	for name, src := range map[string]string{"cursor.js": CursorScript, "iframe_fix.js": IframeFixScript} {
		_, err := goja.Compile(name, src, false)
		assert.NoError(t, err, name)
	}
}

func TestScriptsRunWithoutDOM(t *testing.T) {
	vm := goja.New()
	_, err := vm.RunString(CursorScript)
	assert.NoError(t, err)
	_, err = vm.RunString(IframeFixScript)
	assert.NoError(t, err)
}

func TestCursorScript(t *testing.T) {
	t.Run("installs once", func(t *testing.T) {
		vm := newDOM(t)
		run(t, vm, CursorScript)
		run(t, vm, CursorScript)

		assert.Equal(t, true, run(t, vm, "window.__touchEmulationEnabled").Export())
		// div, input, cursor
		assert.EqualValues(t, 3, run(t, vm, "document.body.children.length").Export())
		assert.Equal(t, "__touch-cursor", run(t, vm, "document.body.children[2].id").Export())
		assert.EqualValues(t, 1, run(t, vm, "__handlers.mousedown.length").Export())
		assert.EqualValues(t, 1, run(t, vm, "__intervals").Export())
	})

	t.Run("drag scrolls by the inverse delta and runs momentum", func(t *testing.T) {
		vm := newDOM(t)
		run(t, vm, CursorScript)

		run(t, vm, "__fire('mouseenter')")
		assert.Equal(t, true, run(t, vm, "document.body.children[2].classList.contains('visible')").Export())

		run(t, vm, "__fire('mousedown', {clientX: 100, clientY: 300, target: __div})")
		assert.Equal(t, true, run(t, vm, "document.body.children[2].classList.contains('pressed')").Export())

		run(t, vm, "__now = 1016; __fire('mousemove', {clientX: 100, clientY: 200, target: __div})")
		assert.EqualValues(t, 100, run(t, vm, "__scrolled.y").Export())
		assert.EqualValues(t, 0, run(t, vm, "__scrolled.x").Export())

		ev := run(t, vm, "__fire('selectstart').defaultPrevented").Export()
		assert.Equal(t, true, ev, "text selection is suppressed while dragging")

		run(t, vm, "__fire('mouseup', {clientX: 100, clientY: 200})")
		assert.Equal(t, false, run(t, vm, "document.body.children[2].classList.contains('pressed')").Export())

		frames := run(t, vm, "__pump()").ToInteger()
		assert.Greater(t, frames, int64(1), "momentum should animate for several frames")
		assert.Less(t, frames, int64(1000), "momentum must decay to a stop")
		assert.Greater(t, run(t, vm, "__scrolled.y").ToFloat(), 100.0)
	})

	t.Run("slow release has no momentum", func(t *testing.T) {
		vm := newDOM(t)
		run(t, vm, CursorScript)
		run(t, vm, "__fire('mousedown', {clientX: 100, clientY: 300, target: __div})")
		run(t, vm, "__now = 2000; __fire('mousemove', {clientX: 100, clientY: 290, target: __div})")
		run(t, vm, "__fire('mouseup', {})")
		assert.EqualValues(t, 0, run(t, vm, "__pump()").Export())
	})

	t.Run("editable targets do not start a drag", func(t *testing.T) {
		vm := newDOM(t)
		run(t, vm, CursorScript)
		run(t, vm, "__fire('mousedown', {clientX: 10, clientY: 300, target: __input})")
		run(t, vm, "__now = 1016; __fire('mousemove', {clientX: 10, clientY: 100, target: __input})")
		assert.EqualValues(t, 0, run(t, vm, "__scrolled.calls").Export())
	})

	t.Run("mouseleave resets the drag", func(t *testing.T) {
		vm := newDOM(t)
		run(t, vm, CursorScript)
		run(t, vm, "__fire('mousedown', {clientX: 100, clientY: 300, target: __div})")
		run(t, vm, "__fire('mouseleave')")
		run(t, vm, "__now = 1016; __fire('mousemove', {clientX: 100, clientY: 100, target: __div})")
		assert.EqualValues(t, 0, run(t, vm, "__scrolled.calls").Export())
	})
}

func TestIframeFixScript(t *testing.T) {
	vm := newDOM(t)
	run(t, vm, `
		function makeDocument() {
			var head = makeElement('head');
			return {
				head: head,
				createElement: makeElement,
				querySelector: function () {
					for (var i = 0; i < head.children.length; i++) {
						if (head.children[i].name === 'viewport') return head.children[i];
					}
					return null;
				}
			};
		}
		var __frame = makeElement('iframe');
		__frame.contentDocument = makeDocument();
		var __foreign = makeElement('iframe');
		Object.defineProperty(__foreign, 'contentDocument', { get: function () { throw new Error('SecurityError'); } });
		document.querySelectorAll = function () { return [__frame, __foreign]; };
	`)
	run(t, vm, IframeFixScript)
	run(t, vm, IframeFixScript)

	assert.Equal(t, "100%", run(t, vm, "__frame.style.maxWidth").Export())
	assert.Equal(t, "100%", run(t, vm, "__foreign.style.maxWidth").Export(), "cross-origin frames are still constrained")
	assert.EqualValues(t, 1, run(t, vm, "__frame.contentDocument.head.children.length").Export(), "one meta per frame document")
	assert.Equal(t, "viewport", run(t, vm, "__frame.contentDocument.head.children[0].name").Export())
	assert.Equal(t, "width=device-width, initial-scale=1.0", run(t, vm, "__frame.contentDocument.head.children[0].content").Export())
	assert.EqualValues(t, 0, run(t, vm, "document.head.children.length").Export(), "the top document keeps its own viewport setup")
}

func TestScriptsFor(t *testing.T) {
	phone := schemas.DeviceProfile{ID: "10003", IsTouchCapable: true, IsMobileCapable: true, Type: schemas.DevicePhone}
	desktop := schemas.DeviceProfile{ID: "90002", Type: schemas.DeviceDesktop}

	names := func(ss []Script) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Name)
		}
		return out
	}

	assert.Equal(t, []string{"touch-cursor", "iframe-fix"}, names(ScriptsFor(schemas.LifecycleDomReady, phone)))
	assert.Equal(t, []string{"touch-cursor"}, names(ScriptsFor(schemas.LifecycleDidNavigate, phone)))
	assert.Equal(t, []string{"iframe-fix"}, names(ScriptsFor(schemas.LifecycleDomReady, desktop)))
	assert.Empty(t, ScriptsFor(schemas.LifecycleDidNavigate, desktop))
	assert.Empty(t, ScriptsFor(schemas.LifecycleStopLoading, phone))
}
