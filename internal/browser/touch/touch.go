// Package touch holds the in-page scripts that turn mouse input into a touch
// cursor with drag scrolling and momentum, plus the iframe layout fix.
package touch

import (
	_ "embed"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

var (
	//go:embed cursor.js
	CursorScript string

	//go:embed iframe_fix.js
	IframeFixScript string
)

// Script is a named piece of page code.
type Script struct {
	Name   string
	Source string
}

// ScriptsFor returns the scripts to inject for a lifecycle event. The cursor
// goes into every touch-capable device on dom-ready and did-navigate; the
// global touch toggle only drives CDP touch emulation. The iframe fix goes
// into every device on dom-ready.
func ScriptsFor(kind schemas.LifecycleKind, d schemas.DeviceProfile) []Script {
	var out []Script
	switch kind {
	case schemas.LifecycleDomReady:
		if d.IsTouchCapable {
			out = append(out, Script{Name: "touch-cursor", Source: CursorScript})
		}
		out = append(out, Script{Name: "iframe-fix", Source: IframeFixScript})
	case schemas.LifecycleDidNavigate:
		if d.IsTouchCapable {
			out = append(out, Script{Name: "touch-cursor", Source: CursorScript})
		}
	}
	return out
}
