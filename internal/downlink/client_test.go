package downlink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

type capturedRequest struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{r.Method, r.URL.EscapedPath(), r.Header.Get("Authorization"), string(body)})
		mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestClient_Push(t *testing.T) {
	t.Parallel()

	srv, requests := newTestServer(t, http.StatusOK)
	c := NewClient(Options{BaseURL: srv.URL, AppID: "airvibe", WebhookID: "gateway", APIKey: "NNSXS.secret"}, zap.NewNop())

	err := c.Push(context.Background(), "airvibe-01", codec.Frame{Port: 21, Bytes: []byte{0x00, 0x01, 0x00}})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/api/v3/as/applications/airvibe/webhooks/gateway/devices/airvibe-01/down/push", reqs[0].path)
	assert.Equal(t, "Bearer NNSXS.secret", reqs[0].auth)
	assert.JSONEq(t, `{"downlinks":[{"f_port":21,"frm_payload":"AAEA","priority":"NORMAL"}]}`, reqs[0].body)
}

func TestClient_PushRejected(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, http.StatusForbidden)
	c := NewClient(Options{BaseURL: srv.URL, AppID: "a", WebhookID: "w"}, nil)

	err := c.Push(context.Background(), "dev", codec.Frame{Port: 20, Bytes: []byte{0x01, 0x02}})
	assert.ErrorContains(t, err, "403")
}

func TestClient_PushNothing(t *testing.T) {
	t.Parallel()

	srv, requests := newTestServer(t, http.StatusOK)
	c := NewClient(Options{BaseURL: srv.URL, AppID: "a", WebhookID: "w"}, nil)

	require.NoError(t, c.Push(context.Background(), "dev"))
	require.NoError(t, c.Publish(context.Background(), ingest.Event{Uplink: ingest.Uplink{Device: "dev"}}))
	assert.Empty(t, requests())
}

func TestClient_PublishSuggestedDownlinks(t *testing.T) {
	t.Parallel()

	srv, requests := newTestServer(t, http.StatusOK)
	c := NewClient(Options{BaseURL: srv.URL, AppID: "a", WebhookID: "w"}, nil)
	pipeline := ingest.New(waveform.NewStore(waveform.FoldOptions{}), ingest.WithSink(c))

	// Data before info queues a request for the info header.
	_, err := pipeline.HandleLine(context.Background(), "dev-9", "8 0107000000010002fffd")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	var push struct {
		Downlinks []struct {
			FPort      int    `json:"f_port"`
			FRMPayload []byte `json:"frm_payload"`
		} `json:"downlinks"`
	}
	require.NoError(t, json.Unmarshal([]byte(reqs[0].body), &push))
	require.Len(t, push.Downlinks, 1)
	assert.Equal(t, 22, push.Downlinks[0].FPort)
	assert.Equal(t, []byte{0x01, 0x00}, push.Downlinks[0].FRMPayload)
}

func TestClient_PublishEncodeError(t *testing.T) {
	t.Parallel()

	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", AppID: "a", WebhookID: "w"}, nil)
	err := c.Publish(context.Background(), ingest.Event{
		Actions: []waveform.Action{{Reason: "broken", Downlink: &codec.MissingSegmentsDownlink{}}},
	})
	assert.ErrorIs(t, err, codec.ErrMissingField)
}
