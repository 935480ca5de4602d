package network

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestIsClientHint(t *testing.T) {
	assert.True(t, IsClientHint("sec-ch-ua"))
	assert.True(t, IsClientHint("Sec-CH-UA-Platform"))
	assert.False(t, IsClientHint("Sec-Ch-Ua-Arch"))
	assert.False(t, IsClientHint("User-Agent"))
}

func TestStripClientHints(t *testing.T) {
	h := http.Header{}
	h.Set("Sec-Ch-Ua", "x")
	h.Set("Sec-Ch-Ua-Mobile", "?1")
	h.Set("Accept", "*/*")

	assert.Equal(t, 2, StripClientHints(h))
	assert.Equal(t, http.Header{"Accept": {"*/*"}}, h)
	assert.Zero(t, StripClientHints(h))
}

func TestFilterClientHints(t *testing.T) {
	got := FilterClientHints(map[string]interface{}{
		"sec-ch-ua":          `"Chromium";v="124"`,
		"sec-ch-ua-platform": `"Linux"`,
		"User-Agent":         "Mozilla/5.0",
		"accept":             "text/html",
		"X-Weird":            42,
	})
	want := []Header{
		{Name: "accept", Value: "text/html"},
		{Name: "User-Agent", Value: "Mozilla/5.0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FilterClientHints() mismatch (-want +got):\n%s", diff)
	}
}
