// internal/network/headers.go
package network

import (
	"net/http"
	"sort"
	"strings"
)

// ClientHintHeaders are the user agent client hints Chromium sends on every
// request. They describe the host browser, not the emulated device, so they
// are removed before a request leaves the machine.
var ClientHintHeaders = []string{
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Mobile",
	"Sec-Ch-Ua-Platform",
}

// IsClientHint reports whether name is one of ClientHintHeaders, ignoring case.
func IsClientHint(name string) bool {
	for _, h := range ClientHintHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// StripClientHints deletes the client hint headers from h and returns how many
// were present.
func StripClientHints(h http.Header) int {
	removed := 0
	for _, name := range ClientHintHeaders {
		if _, ok := h[http.CanonicalHeaderKey(name)]; ok {
			h.Del(name)
			removed++
		}
	}
	return removed
}

// Header is a single request header as reported by the debugging protocol.
type Header struct {
	Name  string
	Value string
}

// FilterClientHints converts a protocol header map into an ordered list with
// the client hints removed. Values that are not strings are dropped.
func FilterClientHints(headers map[string]interface{}) []Header {
	out := make([]Header, 0, len(headers))
	for name, raw := range headers {
		if IsClientHint(name) {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		out = append(out, Header{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
