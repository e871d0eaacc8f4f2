// Package testutil provides shared test helpers and AirVibe fixtures.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// LegacyCapture is a complete three-segment tri-axial transfer (transaction
// 0x21) recorded from a legacy big-endian unit, one "<port> <hex>" line per
// uplink: info, two data segments, final segment.
var LegacyCapture = []string{
	"8 03210000070003814e200015",
	"8 01210000ffff000000020000fffc00020000fffd0003fffffffc0001fffdfffefffeffff0002ffff00000005fffb",
	"8 01210001fffd0005fff8fffc0003fffa00000004fffc0000000500000003000200020006ffff00030005ffff0000",
	"8 052100020002fffe00000003fffffffd0003fffdfffcfffffffc0003ffff00000005000000020004000200000007",
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request with an optional text body.
func NewTestRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, r)
}

// Serve runs one request through h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
