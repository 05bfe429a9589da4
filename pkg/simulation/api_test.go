package simulation

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/internal/metrics"
	"github.com/skycoin/skydrone/internal/testhelpers"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/eventlog"
)

func do(t *testing.T, method, url, body string) (int, []byte) {
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	raw, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestAPI(t *testing.T) {
	m := metrics.NewPrometheus("skydrone")
	s := newSimulation(t, WithMetrics(m))
	defer func() {
		require.NoError(t, s.Close(testhelpers.Timeout))
	}()

	srv := httptest.NewServer(NewAPI(s, m))
	defer srv.Close()
	api := srv.URL + "/api"

	t.Run("topology", func(t *testing.T) {
		code, raw := do(t, http.MethodGet, api+"/topology", "")
		require.Equal(t, http.StatusOK, code)

		var topo Topology
		require.NoError(t, json.Unmarshal(raw, &topo))
		assert.Equal(t, s.Topology(), topo)
		assert.Len(t, topo.Nodes, 5)
	})

	t.Run("pdr", func(t *testing.T) {
		code, _ := do(t, http.MethodPut, api+"/drones/13/pdr", `{"pdr":0.5}`)
		assert.Equal(t, http.StatusOK, code)

		code, _ = do(t, http.MethodPut, api+"/drones/13/pdr", `{"pdr":2}`)
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = do(t, http.MethodPut, api+"/drones/13/pdr", `{}`)
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = do(t, http.MethodPut, api+"/drones/99/pdr", `{"pdr":0.1}`)
		assert.Equal(t, http.StatusNotFound, code)

		code, _ = do(t, http.MethodPut, api+"/drones/1/pdr", `{"pdr":0.1}`)
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("edges", func(t *testing.T) {
		code, raw := do(t, http.MethodPost, api+"/edges", `{"a":13,"b":1}`)
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"a":1,"b":13}`, string(raw))

		code, _ = do(t, http.MethodPost, api+"/edges", `{"a":1,"b":13}`)
		assert.Equal(t, http.StatusConflict, code)

		code, _ = do(t, http.MethodDelete, api+"/edges", `{"a":1,"b":13}`)
		assert.Equal(t, http.StatusOK, code)

		code, _ = do(t, http.MethodDelete, api+"/edges", `{"a":1,"b":13}`)
		assert.Equal(t, http.StatusConflict, code)

		code, _ = do(t, http.MethodPost, api+"/edges", `{"a":1,"c":13}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("crash_and_stream", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, conn.Close())
		}()

		code, _ := do(t, http.MethodPost, api+"/drones/abc/crash", "")
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = do(t, http.MethodPost, api+"/drones/13/crash", "")
		require.Equal(t, http.StatusOK, code)

		code, _ = do(t, http.MethodPost, api+"/drones/13/crash", "")
		assert.Equal(t, http.StatusConflict, code)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(testhelpers.Timeout)))
		for {
			var ev control.Event
			require.NoError(t, conn.ReadJSON(&ev))
			if ev.Type == control.EventCrashed {
				assert.EqualValues(t, 13, ev.Node)
				break
			}
		}

		code, raw := do(t, http.MethodGet, api+"/events?limit=1000", "")
		require.Equal(t, http.StatusOK, code)
		var records []eventlog.Record
		require.NoError(t, json.Unmarshal(raw, &records))
		require.NotEmpty(t, records)
		assert.Equal(t, uint64(1), records[0].Seq)
		assert.Equal(t, control.EventCrashed, records[len(records)-1].Event.Type)

		code, raw = do(t, http.MethodGet, api+"/events?from=2&limit=0", "")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, string(raw))

		code, _ = do(t, http.MethodGet, api+"/events?from=x", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("metrics", func(t *testing.T) {
		code, raw := do(t, http.MethodGet, srv.URL+"/metrics", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(raw), `skydrone_events_total{node="13",type="Crashed"} 1`)
		assert.Contains(t, string(raw), "skydrone_request_total")
	})
}
