package cdp

import (
	"testing"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
)

const testTarget = "TARGET-1"

func TestNetErrorCode(t *testing.T) {
	assert.Equal(t, -105, NetErrorCode("net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, browser.AbortErrorCode, NetErrorCode("net::ERR_ABORTED"))
	assert.Equal(t, -102, NetErrorCode(" ERR_CONNECTION_REFUSED "))
	assert.Equal(t, -2, NetErrorCode("net::ERR_SOMETHING_NEW"))
	assert.Equal(t, -2, NetErrorCode(""))
}

func TestTranslatorPageLifecycle(t *testing.T) {
	tr := newTranslator(testTarget)
	main := cdproto.FrameID(testTarget)

	var got []interface{}
	feed := func(ev interface{}) { got = append(got, tr.translate(ev)...) }

	feed(&page.EventFrameStartedLoading{FrameID: main})
	feed(&page.EventFrameStartedLoading{FrameID: "child"})
	feed(&page.EventFrameNavigated{Frame: &cdproto.Frame{ID: "child", ParentID: main, URL: "https://ads.example/"}})
	feed(&page.EventFrameNavigated{Frame: &cdproto.Frame{ID: main, URL: "https://example.com/", URLFragment: "#top"}})
	feed(&page.EventDomContentEventFired{})
	feed(&page.EventFrameStoppedLoading{FrameID: "child"})
	feed(&page.EventFrameStoppedLoading{FrameID: main})
	feed(&page.EventNavigatedWithinDocument{FrameID: main, URL: "https://example.com/#section"})

	want := []interface{}{
		schemas.LifecycleEvent{Kind: schemas.LifecycleStartLoading, IsMainFrame: true},
		schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate, URL: "https://example.com/#top", IsMainFrame: true},
		schemas.LifecycleEvent{Kind: schemas.LifecycleDomReady, URL: "https://example.com/#top", IsMainFrame: true},
		schemas.LifecycleEvent{Kind: schemas.LifecycleStopLoading, URL: "https://example.com/#top", IsMainFrame: true},
		schemas.LifecycleEvent{Kind: schemas.LifecycleDidNavigate, URL: "https://example.com/#section", IsMainFrame: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("translate() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslatorSuppressesErrorPage(t *testing.T) {
	tr := newTranslator(testTarget)
	out := tr.translate(&page.EventFrameNavigated{Frame: &cdproto.Frame{ID: testTarget, URL: "chrome-error://chromewebdata/"}})
	assert.Empty(t, out)
}

func TestTranslatorNetwork(t *testing.T) {
	t.Run("Completed", func(t *testing.T) {
		tr := newTranslator(testTarget)
		assert.Empty(t, tr.translate(&network.EventRequestWillBeSent{
			RequestID: "r1",
			FrameID:   testTarget,
			Type:      network.ResourceTypeXHR,
			Request:   &network.Request{URL: "https://api.example.com/v1/users?id=1", Method: "POST"},
		}))
		assert.Empty(t, tr.translate(&network.EventResponseReceived{
			RequestID: "r1",
			Response:  &network.Response{Status: 201, MimeType: "application/json"},
		}))
		out := tr.translate(&network.EventLoadingFinished{RequestID: "r1"})

		want := []interface{}{schemas.NetworkEvent{
			TargetID:  testTarget,
			RequestID: "r1",
			URL:       "https://api.example.com/v1/users?id=1",
			Method:    "POST",
			Status:    201,
			MimeType:  "application/json",
		}}
		assert.Equal(t, want, out)
		assert.Empty(t, tr.translate(&network.EventLoadingFinished{RequestID: "r1"}), "a request completes once")
	})

	t.Run("UnknownRequestIgnored", func(t *testing.T) {
		tr := newTranslator(testTarget)
		assert.Empty(t, tr.translate(&network.EventLoadingFinished{RequestID: "nope"}))
		assert.Empty(t, tr.translate(&network.EventLoadingFailed{RequestID: "nope"}))
	})

	t.Run("MainDocumentFailure", func(t *testing.T) {
		tr := newTranslator(testTarget)
		tr.translate(&network.EventRequestWillBeSent{
			RequestID: "doc",
			FrameID:   testTarget,
			Type:      network.ResourceTypeDocument,
			Request:   &network.Request{URL: "https://nope.invalid/", Method: "GET"},
		})
		out := tr.translate(&network.EventLoadingFailed{RequestID: "doc", ErrorText: "net::ERR_NAME_NOT_RESOLVED"})
		require.Len(t, out, 2)

		ne, ok := out[0].(schemas.NetworkEvent)
		require.True(t, ok)
		assert.True(t, ne.Failed)
		assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", ne.ErrorText)

		assert.Equal(t, schemas.LifecycleEvent{
			Kind:             schemas.LifecycleDidFailLoad,
			URL:              "https://nope.invalid/",
			ErrorCode:        -105,
			ErrorDescription: "net::ERR_NAME_NOT_RESOLVED",
			IsMainFrame:      true,
		}, out[1])
	})

	t.Run("CanceledDocumentIsAbort", func(t *testing.T) {
		tr := newTranslator(testTarget)
		tr.translate(&network.EventRequestWillBeSent{
			RequestID: "doc", FrameID: testTarget, Type: network.ResourceTypeDocument,
			Request: &network.Request{URL: "https://example.com/", Method: "GET"},
		})
		out := tr.translate(&network.EventLoadingFailed{RequestID: "doc", ErrorText: "net::ERR_FAILED", Canceled: true})
		require.Len(t, out, 2)
		ev := out[1].(schemas.LifecycleEvent)
		assert.Equal(t, browser.AbortErrorCode, ev.ErrorCode)
		assert.False(t, browser.IsRealFailure(ev))
	})

	t.Run("SubframeDocumentFailureIsOnlyNetwork", func(t *testing.T) {
		tr := newTranslator(testTarget)
		tr.translate(&network.EventRequestWillBeSent{
			RequestID: "frame", FrameID: "child", Type: network.ResourceTypeDocument,
			Request: &network.Request{URL: "https://ads.example/", Method: "GET"},
		})
		out := tr.translate(&network.EventLoadingFailed{RequestID: "frame", ErrorText: "net::ERR_BLOCKED_BY_CLIENT"})
		require.Len(t, out, 1)
		assert.IsType(t, schemas.NetworkEvent{}, out[0])
	})
}

func TestTranslatorConsole(t *testing.T) {
	tr := newTranslator(testTarget)

	out := tr.translate(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeLog,
		Args: []*runtime.RemoteObject{
			{Type: runtime.TypeString, Value: []byte(`"count:"`)},
			{Type: runtime.TypeNumber, Value: []byte(`42`)},
			{Type: runtime.TypeObject, Description: "Object"},
			{Type: runtime.TypeNumber, UnserializableValue: "NaN"},
		},
		StackTrace: &runtime.StackTrace{CallFrames: []*runtime.CallFrame{{URL: "https://example.com/app.js", LineNumber: 9}}},
	})
	assert.Equal(t, []interface{}{schemas.ConsoleMessage{
		Level:    schemas.ConsoleInfo,
		Message:  "count: 42 Object NaN",
		SourceID: "https://example.com/app.js",
		Line:     10,
	}}, out)

	out = tr.translate(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeError,
		Args: []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"boom"`)}},
	})
	assert.Equal(t, []interface{}{schemas.ConsoleMessage{Level: schemas.ConsoleError, Message: "boom"}}, out)

	out = tr.translate(&runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{
		Text:       "Uncaught",
		URL:        "https://example.com/main.js",
		LineNumber: 3,
		Exception:  &runtime.RemoteObject{Type: runtime.TypeObject, Description: "TypeError: x is undefined"},
	}})
	assert.Equal(t, []interface{}{schemas.ConsoleMessage{
		Level:    schemas.ConsoleError,
		Message:  "TypeError: x is undefined",
		SourceID: "https://example.com/main.js",
		Line:     4,
	}}, out)

	out = tr.translate(&log.EventEntryAdded{Entry: &log.Entry{
		Level: log.LevelWarning, Text: "Mixed content", URL: "https://example.com/", LineNumber: 1,
	}})
	assert.Equal(t, []interface{}{schemas.ConsoleMessage{
		Level: schemas.ConsoleWarning, Message: "Mixed content", SourceID: "https://example.com/", Line: 1,
	}}, out)
}

func TestConsoleLevelFromAPI(t *testing.T) {
	tests := map[runtime.APIType]schemas.ConsoleLevel{
		runtime.APITypeError:   schemas.ConsoleError,
		runtime.APITypeAssert:  schemas.ConsoleError,
		runtime.APITypeWarning: schemas.ConsoleWarning,
		runtime.APITypeDebug:   schemas.ConsoleVerbose,
		runtime.APITypeTrace:   schemas.ConsoleVerbose,
		runtime.APITypeLog:     schemas.ConsoleInfo,
		runtime.APITypeInfo:    schemas.ConsoleInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, consoleLevelFromAPI(in), string(in))
	}
}
