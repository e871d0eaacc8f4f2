package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/serialmux"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/testutil"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

func newTestServer(t *testing.T, m serialmux.SerialMuxInterface, opts ...codec.Option) http.Handler {
	t.Helper()
	p := ingest.New(waveform.NewStore(waveform.FoldOptions{}), ingest.WithCodecOptions(opts...))
	return NewServer(m, p).ServeMux()
}

func legacyServer(t *testing.T) http.Handler {
	return newTestServer(t, nil, codec.WithRevision(codec.RevisionLegacyBE))
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestDecode_Uplink(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, nil)
	req := testutil.NewTestRequest(http.MethodPost, "/decode?port=8&revision=legacy-be", strings.TrimPrefix(testutil.LegacyCapture[0], "8 "))
	w := testutil.Serve(h, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got struct {
		Port       int            `json:"f_port"`
		PacketType int            `json:"packet_type"`
		Data       map[string]any `json:"data"`
		Warnings   []string       `json:"warnings"`
	}
	decodeJSON(t, w, &got)
	assert.Equal(t, 8, got.Port)
	assert.Equal(t, 3, got.PacketType)
	assert.EqualValues(t, 0x21, got.Data["transaction_id"])
	assert.EqualValues(t, 3, got.Data["number_of_segments"])
	assert.EqualValues(t, 20000, got.Data["sampling_rate_hz"])
	assert.Empty(t, got.Warnings)
}

func TestDecode_Downlink(t *testing.T) {
	t.Parallel()

	w := testutil.Serve(newTestServer(t, nil), testutil.NewTestRequest(http.MethodPost, "/decode?port=20&direction=down", "03 21"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got struct {
		Port int            `json:"f_port"`
		Data map[string]any `json:"data"`
	}
	decodeJSON(t, w, &got)
	assert.Equal(t, 20, got.Port)
	assert.EqualValues(t, 0x21, got.Data["transaction_id"])
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"bad hex", "/decode", "zz", http.StatusBadRequest},
		{"odd hex", "/decode", "031", http.StatusBadRequest},
		{"bad revision", "/decode?revision=v9", "03", http.StatusBadRequest},
		{"bad direction", "/decode?direction=sideways", "03", http.StatusBadRequest},
		{"bad port", "/decode?port=300", "03", http.StatusBadRequest},
		{"unsupported port", "/decode?port=9", "03", http.StatusUnprocessableEntity},
		{"short payload", "/decode", "03", http.StatusUnprocessableEntity},
		{"unknown type", "/decode", "7f00", http.StatusUnprocessableEntity},
	}
	h := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, tt.path, tt.body))
			testutil.AssertStatusCode(t, w.Code, tt.status)
			var body map[string]string
			decodeJSON(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDecode_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	w := testutil.Serve(newTestServer(t, nil), testutil.NewTestRequest(http.MethodGet, "/decode", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, nil)

	w := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/encode?port=20", `{"opcode": 3, "transaction_id": 33}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var frame map[string]any
	decodeJSON(t, w, &frame)
	assert.EqualValues(t, 20, frame["f_port"])
	assert.Equal(t, "0321", frame["hex"])

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/encode?port=22", `{"command_id": "request_waveform_info"}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	decodeJSON(t, w, &frame)
	assert.Equal(t, "0100", frame["hex"])

	for _, tc := range []struct{ path, body string }{
		{"/encode", `{"opcode": 3, "transaction_id": 33}`},
		{"/encode?port=20", `{"opcode": 3}`},
		{"/encode?port=20", `{"opcode": 3, "transaction_id": 33, "extra": 1}`},
		{"/encode?port=99", `{}`},
		{"/encode?port=20", `not json`},
	} {
		w := testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, tc.path, tc.body))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	}
}

type linesBody struct {
	Device string `json:"device"`
	Lines  []struct {
		Line        int    `json:"line"`
		EventID     string `json:"event_id"`
		PacketType  int    `json:"packet_type"`
		Transaction *struct {
			Device string `json:"device"`
			TxID   int    `json:"tx_id"`
		} `json:"transaction"`
		Actions []struct {
			Reason string `json:"reason"`
			Frame  struct {
				Port int    `json:"f_port"`
				Hex  string `json:"hex"`
			} `json:"frame"`
		} `json:"actions"`
		Error string `json:"error"`
	} `json:"lines"`
	Transactions []struct {
		Received int  `json:"received"`
		Complete bool `json:"complete"`
	} `json:"transactions"`
}

func postCapture(t *testing.T, h http.Handler, device string, lines ...string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/tracker/lines?device="+device, strings.Join(lines, "\n")))
}

func TestTrackerLines(t *testing.T) {
	t.Parallel()

	h := legacyServer(t)
	lines := append([]string{"# legacy capture"}, testutil.LegacyCapture...)
	lines = append(lines, "8 zz")
	w := postCapture(t, h, "dev-1", lines...)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got linesBody
	decodeJSON(t, w, &got)
	assert.Equal(t, "dev-1", got.Device)
	require.Len(t, got.Lines, 5)

	first := got.Lines[0]
	assert.Equal(t, 2, first.Line)
	assert.NotEmpty(t, first.EventID)
	assert.Equal(t, 3, first.PacketType)
	require.NotNil(t, first.Transaction)
	assert.Equal(t, "dev-1", first.Transaction.Device)
	assert.Equal(t, 0x21, first.Transaction.TxID)
	require.Len(t, first.Actions, 1)
	assert.Equal(t, 20, first.Actions[0].Frame.Port)
	assert.Equal(t, "0321", first.Actions[0].Frame.Hex)

	last := got.Lines[3]
	require.Len(t, last.Actions, 1)
	assert.Equal(t, "0121", last.Actions[0].Frame.Hex)

	bad := got.Lines[4]
	assert.Equal(t, 6, bad.Line)
	assert.NotEmpty(t, bad.Error)

	require.Len(t, got.Transactions, 1)
	assert.True(t, got.Transactions[0].Complete)
	assert.Equal(t, 3, got.Transactions[0].Received)
}

func TestTransactions_ListShowDelete(t *testing.T) {
	t.Parallel()

	h := legacyServer(t)
	postCapture(t, h, "dev-1", testutil.LegacyCapture...)
	postCapture(t, h, "dev-2", testutil.LegacyCapture[0])

	w := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var list []map[string]any
	decodeJSON(t, w, &list)
	assert.Len(t, list, 2)

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions?device=dev-2", ""))
	decodeJSON(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, false, list[0]["complete"])

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions/dev-1/0x21", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var detail struct {
		Complete      bool     `json:"complete"`
		SegmentStates []string `json:"segment_states"`
		Capacity      []int    `json:"capacity"`
	}
	decodeJSON(t, w, &detail)
	assert.True(t, detail.Complete)
	assert.Equal(t, []string{"green", "green", "green"}, detail.SegmentStates)
	assert.Equal(t, []int{7, 7, 7}, detail.Capacity)

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/tracker/transactions/dev-1/33", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)
	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions/dev-1/33", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/tracker/transactions/dev-1/33", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions/dev-1/nope", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodDelete, "/tracker/transactions", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var reset map[string]int
	decodeJSON(t, w, &reset)
	assert.Equal(t, 1, reset["deleted"])

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions", ""))
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestExports(t *testing.T) {
	t.Parallel()

	h := legacyServer(t)
	postCapture(t, h, "dev-1", testutil.LegacyCapture...)
	base := "/tracker/transactions/dev-1/33"

	tests := []struct {
		suffix      string
		contentType string
		disposition string
		prefix      []byte
	}{
		{"/export.csv", "text/csv", `attachment; filename="waveform_dev-1_tx33.csv"`, []byte("# tx_id=33")},
		{"/export.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", `attachment; filename="waveform_dev-1_tx33.xlsx"`, []byte("PK")},
		{"/export.png", "image/png", "", []byte("\x89PNG")},
		{"/chart", "text/html; charset=utf-8", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			w := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, base+tt.suffix, ""))
			testutil.AssertStatusCode(t, w.Code, http.StatusOK)
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			assert.Equal(t, tt.disposition, w.Header().Get("Content-Disposition"))
			assert.True(t, bytes.HasPrefix(w.Body.Bytes(), tt.prefix))
			assert.NotZero(t, w.Body.Len())
		})
	}
}

func TestExports_NotReady(t *testing.T) {
	t.Parallel()

	h := legacyServer(t)
	postCapture(t, h, "dev-1", testutil.LegacyCapture[1])

	for _, suffix := range []string{"/export.csv", "/export.xlsx", "/export.png", "/chart"} {
		w := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions/dev-1/33"+suffix, ""))
		testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	}
	w := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/tracker/transactions/dev-9/33/export.csv", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestFuotaPlan(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, nil)
	image := make([]byte, 0x134)
	for i := range image {
		image[i] = byte(i)
	}

	w := testutil.Serve(h, httptest.NewRequest(http.MethodPost, "/fuota/plan", bytes.NewReader(image)))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var plan struct {
		Size     int               `json:"size"`
		Blocks   int               `json:"blocks"`
		Frames   []map[string]any  `json:"frames"`
		Manifest map[string]string `json:"manifest"`
	}
	decodeJSON(t, w, &plan)
	assert.Equal(t, 0x134, plan.Size)
	assert.Equal(t, 7, plan.Blocks)
	require.Len(t, plan.Frames, 9)
	assert.Equal(t, "050034010000", plan.Frames[0]["hex"])
	assert.EqualValues(t, 25, plan.Frames[1]["f_port"])
	assert.Equal(t, "0600", plan.Frames[8]["hex"])
	assert.Nil(t, plan.Manifest)

	w = testutil.Serve(h, httptest.NewRequest(http.MethodPost, "/fuota/plan?format=manifest", bytes.NewReader(image)))
	decodeJSON(t, w, &plan)
	assert.Len(t, plan.Manifest, 7)

	w = testutil.Serve(h, httptest.NewRequest(http.MethodPost, "/fuota/plan?format=blocks", bytes.NewReader(image)))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, 7, strings.Count(w.Body.String(), "\n"))

	w = testutil.Serve(h, httptest.NewRequest(http.MethodPost, "/fuota/plan", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = testutil.Serve(h, httptest.NewRequest(http.MethodPost, "/fuota/plan?format=zip", bytes.NewReader(image)))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	form := func() *http.Request {
		r := testutil.NewTestRequest(http.MethodPost, "/command", "command=AT%2BVER")
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}

	w := testutil.Serve(newTestServer(t, nil), form())
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)

	m := serialmux.NewDisabledSerialMux()
	h := newTestServer(t, m)
	w = testutil.Serve(h, form())
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	w = testutil.Serve(h, testutil.NewTestRequest(http.MethodPost, "/command", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestShowVersion(t *testing.T) {
	t.Parallel()

	w := testutil.Serve(newTestServer(t, nil), testutil.NewTestRequest(http.MethodGet, "/version", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var v map[string]string
	decodeJSON(t, w, &v)
	assert.Equal(t, "dev", v["version"])
	assert.Contains(t, v, "git_sha")
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := testutil.Serve(h, testutil.NewTestRequest(http.MethodGet, "/x", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := testutil.NewTestRequest(http.MethodGet, "/x", "")
	req.Header.Set("X-Request-ID", "abc")
	w = testutil.Serve(h, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
