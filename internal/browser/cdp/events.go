// internal/browser/cdp/events.go
package cdp

import (
	"strings"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// netErrors maps Chromium net error names to their numeric codes.
var netErrors = map[string]int{
	"ERR_IO_PENDING":                 -1,
	"ERR_FAILED":                     -2,
	"ERR_ABORTED":                    browser.AbortErrorCode,
	"ERR_INVALID_ARGUMENT":           -4,
	"ERR_FILE_NOT_FOUND":             -6,
	"ERR_TIMED_OUT":                  -7,
	"ERR_ACCESS_DENIED":              -10,
	"ERR_BLOCKED_BY_CLIENT":          -20,
	"ERR_NETWORK_CHANGED":            -21,
	"ERR_BLOCKED_BY_RESPONSE":        -27,
	"ERR_CONNECTION_CLOSED":          -100,
	"ERR_CONNECTION_RESET":           -101,
	"ERR_CONNECTION_REFUSED":         -102,
	"ERR_CONNECTION_ABORTED":         -103,
	"ERR_CONNECTION_FAILED":          -104,
	"ERR_NAME_NOT_RESOLVED":          -105,
	"ERR_INTERNET_DISCONNECTED":      -106,
	"ERR_SSL_PROTOCOL_ERROR":         -107,
	"ERR_ADDRESS_UNREACHABLE":        -109,
	"ERR_CONNECTION_TIMED_OUT":       -118,
	"ERR_TOO_MANY_REDIRECTS":         -310,
	"ERR_UNSAFE_REDIRECT":            -311,
	"ERR_UNSAFE_PORT":                -312,
	"ERR_EMPTY_RESPONSE":             -324,
	"ERR_CERT_COMMON_NAME_INVALID":   -200,
	"ERR_CERT_DATE_INVALID":          -201,
	"ERR_CERT_AUTHORITY_INVALID":     -202,
	"ERR_CERT_REVOKED":               -206,
	"ERR_CERT_INVALID":               -207,
	"ERR_HTTP2_PROTOCOL_ERROR":       -337,
	"ERR_NAME_RESOLUTION_FAILED":     -137,
	"ERR_PROXY_CONNECTION_FAILED":    -130,
	"ERR_TUNNEL_CONNECTION_FAILED":   -111,
	"ERR_INVALID_RESPONSE":           -320,
	"ERR_CONTENT_DECODING_FAILED":    -330,
	"ERR_RESPONSE_HEADERS_TRUNCATED": -357,
}

// NetErrorCode converts an error text such as "net::ERR_NAME_NOT_RESOLVED"
// into its Chromium error code. Unknown names map to ERR_FAILED.
func NetErrorCode(errorText string) int {
	name := strings.TrimPrefix(strings.TrimSpace(errorText), "net::")
	if code, ok := netErrors[name]; ok {
		return code
	}
	return netErrors["ERR_FAILED"]
}

type pendingRequest struct {
	url      string
	method   string
	frame    cdproto.FrameID
	document bool
	status   int64
	mime     string
}

// translator turns raw protocol events of one target into the surface event
// model. It only tracks the main frame id, the last committed URL and
// in-flight requests.
type translator struct {
	targetID string

	mu        sync.Mutex
	mainFrame cdproto.FrameID
	url       string
	requests  map[network.RequestID]*pendingRequest
}

func newTranslator(targetID string) *translator {
	return &translator{
		targetID: targetID,
		// A page target's main frame shares its id.
		mainFrame: cdproto.FrameID(targetID),
		requests:  make(map[network.RequestID]*pendingRequest),
	}
}

// translate returns zero or more schemas events for ev.
func (t *translator) translate(ev interface{}) []interface{} {
	switch e := ev.(type) {
	case *page.EventFrameStartedLoading:
		if t.isMain(e.FrameID) {
			return one(schemas.LifecycleEvent{Kind: schemas.LifecycleStartLoading, IsMainFrame: true})
		}
	case *page.EventFrameNavigated:
		return t.frameNavigated(e)
	case *page.EventNavigatedWithinDocument:
		if t.isMain(e.FrameID) {
			t.setURL(e.URL)
			return one(schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate, URL: e.URL, IsMainFrame: true})
		}
	case *page.EventDomContentEventFired:
		return one(schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady, URL: t.currentURL(), IsMainFrame: true})
	case *page.EventFrameStoppedLoading:
		if t.isMain(e.FrameID) {
			return one(schemas.LifecycleEvent{Kind: schemas.LifecycleStopLoading, URL: t.currentURL(), IsMainFrame: true})
		}

	case *runtime.EventConsoleAPICalled:
		return one(consoleFromAPI(e))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			return one(consoleFromException(e.ExceptionDetails))
		}
	case *log.EventEntryAdded:
		if e.Entry != nil {
			return one(consoleFromLog(e.Entry))
		}

	case *network.EventRequestWillBeSent:
		t.requestWillBeSent(e)
	case *network.EventResponseReceived:
		t.responseReceived(e)
	case *network.EventLoadingFinished:
		if req := t.take(e.RequestID); req != nil {
			return one(t.networkEvent(e.RequestID, req))
		}
	case *network.EventLoadingFailed:
		return t.loadingFailed(e)
	}
	return nil
}

func one(v interface{}) []interface{} { return []interface{}{v} }

func (t *translator) isMain(id cdproto.FrameID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id == t.mainFrame
}

func (t *translator) setURL(u string) {
	t.mu.Lock()
	t.url = u
	t.mu.Unlock()
}

func (t *translator) currentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *translator) frameNavigated(e *page.EventFrameNavigated) []interface{} {
	f := e.Frame
	if f == nil || f.ParentID != "" {
		return nil
	}
	// Chromium commits an internal error page after a failed load.
	if strings.HasPrefix(f.URL, "chrome-error://") {
		return nil
	}
	u := f.URL + f.URLFragment
	t.mu.Lock()
	t.mainFrame = f.ID
	t.url = u
	t.mu.Unlock()
	return one(schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate, URL: u, IsMainFrame: true})
}

func (t *translator) requestWillBeSent(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[e.RequestID] = &pendingRequest{
		url:      e.Request.URL,
		method:   e.Request.Method,
		frame:    e.FrameID,
		document: e.Type == network.ResourceTypeDocument,
	}
}

func (t *translator) responseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if req, ok := t.requests[e.RequestID]; ok {
		req.status = e.Response.Status
		req.mime = e.Response.MimeType
	}
}

func (t *translator) take(id network.RequestID) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	if !ok {
		return nil
	}
	delete(t.requests, id)
	return req
}

func (t *translator) networkEvent(id network.RequestID, req *pendingRequest) schemas.NetworkEvent {
	return schemas.NetworkEvent{
		TargetID:  t.targetID,
		RequestID: string(id),
		URL:       req.url,
		Method:    req.method,
		Status:    req.status,
		MimeType:  req.mime,
	}
}

func (t *translator) loadingFailed(e *network.EventLoadingFailed) []interface{} {
	req := t.take(e.RequestID)
	if req == nil {
		return nil
	}
	ne := t.networkEvent(e.RequestID, req)
	ne.Failed = true
	ne.ErrorText = e.ErrorText
	out := one(ne)

	if req.document && (req.frame == "" || t.isMain(req.frame)) {
		code := NetErrorCode(e.ErrorText)
		if e.Canceled {
			code = browser.AbortErrorCode
		}
		out = append(out, schemas.LifecycleEvent{
			Kind:             schemas.LifecycleDidFailLoad,
			URL:              req.url,
			ErrorCode:        code,
			ErrorDescription: e.ErrorText,
			IsMainFrame:      true,
		})
	}
	return out
}

// -- Console --

func consoleLevelFromAPI(t runtime.APIType) schemas.ConsoleLevel {
	switch t {
	case runtime.APITypeError, runtime.APITypeAssert:
		return schemas.ConsoleError
	case runtime.APITypeWarning:
		return schemas.ConsoleWarning
	case runtime.APITypeDebug, runtime.APITypeTrace:
		return schemas.ConsoleVerbose
	}
	return schemas.ConsoleInfo
}

func consoleFromAPI(e *runtime.EventConsoleAPICalled) schemas.ConsoleMessage {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		parts = append(parts, formatRemoteObject(arg))
	}
	msg := schemas.ConsoleMessage{
		Level:   consoleLevelFromAPI(e.Type),
		Message: strings.Join(parts, " "),
	}
	msg.SourceID, msg.Line = topFrame(e.StackTrace)
	return msg
}

func consoleFromException(d *runtime.ExceptionDetails) schemas.ConsoleMessage {
	text := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		text = d.Exception.Description
	}
	msg := schemas.ConsoleMessage{Level: schemas.ConsoleError, Message: text, SourceID: d.URL, Line: d.LineNumber + 1}
	if msg.SourceID == "" {
		msg.SourceID, msg.Line = topFrame(d.StackTrace)
	}
	return msg
}

func consoleFromLog(e *log.Entry) schemas.ConsoleMessage {
	level := schemas.ConsoleInfo
	switch e.Level {
	case log.LevelError:
		level = schemas.ConsoleError
	case log.LevelWarning:
		level = schemas.ConsoleWarning
	case log.LevelVerbose:
		level = schemas.ConsoleVerbose
	}
	return schemas.ConsoleMessage{Level: level, Message: e.Text, SourceID: e.URL, Line: e.LineNumber}
}

// topFrame returns the URL and 1-based line of the innermost call frame.
func topFrame(st *runtime.StackTrace) (string, int64) {
	if st == nil || len(st.CallFrames) == 0 {
		return "", 0
	}
	f := st.CallFrames[0]
	return f.URL, f.LineNumber + 1
}

// formatRemoteObject renders a console argument the way the console shows it:
// strings unquoted, primitives as JSON, objects by description.
func formatRemoteObject(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}
