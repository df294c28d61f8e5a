package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DIGVI962/DRaaS/internal/fabric"
)

type fakeSelector struct {
	id  string
	rec fabric.AgentRecord
	err error
}

func (f *fakeSelector) Select() (string, fabric.AgentRecord, error) {
	return f.id, f.rec, f.err
}

type fakeRecorder struct {
	calls        int
	deploymentID string
	agent        string
	image        string
	ports        fabric.PortMap
}

func (f *fakeRecorder) Record(deploymentID, agent, image string, ports fabric.PortMap) {
	f.calls++
	f.deploymentID = deploymentID
	f.agent = agent
	f.image = image
	f.ports = ports
}

// endpoint strips the scheme from an httptest server URL, leaving the
// host:port form agents advertise.
func endpoint(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// TestDispatch tests the start call against a stub worker: the wire request
// carries the image and derived container name, and a successful reply is
// recorded as a placement.
func TestDispatch(t *testing.T) {
	const image = "user_code_image_abc12345"

	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/start_deployment", r.URL.Path)

		var req fabric.StartDeploymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, image, req.Image)
		assert.Equal(t, image+"_container", req.ContainerName)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"started","deployment_id":"dep-1","mapped_ports":{"8000/tcp":[{"HostIp":"0.0.0.0","HostPort":"32768"}]}}`))
	}))
	defer worker.Close()

	selector := &fakeSelector{id: "agent-1", rec: fabric.AgentRecord{IP: endpoint(worker)}}
	recorder := &fakeRecorder{}
	d := New(selector, recorder, zap.NewNop())

	res, err := d.Dispatch(context.Background(), image)
	require.NoError(t, err)

	assert.Equal(t, "dep-1", res.DeploymentID)
	assert.Equal(t, "agent-1", res.AgentID)
	assert.Equal(t, endpoint(worker), res.AgentEndpoint)
	assert.Equal(t, fabric.PortMap{"8000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "32768"}}}, res.MappedPorts)

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, "dep-1", recorder.deploymentID)
	assert.Equal(t, endpoint(worker), recorder.agent)
	assert.Equal(t, image, recorder.image)
}

// TestDispatchSelectionPassthrough tests that a selection failure surfaces
// unchanged instead of being wrapped as a dispatch failure.
func TestDispatchSelectionPassthrough(t *testing.T) {
	sentinel := errors.New("registry: no agents available")
	d := New(&fakeSelector{err: sentinel}, &fakeRecorder{}, zap.NewNop())

	_, err := d.Dispatch(context.Background(), "user_code_image_abc12345")
	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, ErrDispatchFailed)
}

// TestDispatchWorkerRefusal tests that a non-200 worker reply fails the
// dispatch and carries the worker's own message.
func TestDispatchWorkerRefusal(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"agent is busy with another deployment","code":"agent_busy"}`))
	}))
	defer worker.Close()

	recorder := &fakeRecorder{}
	d := New(&fakeSelector{id: "agent-1", rec: fabric.AgentRecord{IP: endpoint(worker)}}, recorder, zap.NewNop())

	_, err := d.Dispatch(context.Background(), "user_code_image_abc12345")
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Contains(t, err.Error(), "agent is busy with another deployment")
	assert.Zero(t, recorder.calls)
}

// TestDispatchWorkerUnreachable tests the transport failure path.
func TestDispatchWorkerUnreachable(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := endpoint(worker)
	worker.Close()

	recorder := &fakeRecorder{}
	d := New(&fakeSelector{id: "agent-1", rec: fabric.AgentRecord{IP: addr}}, recorder, zap.NewNop())

	_, err := d.Dispatch(context.Background(), "user_code_image_abc12345")
	assert.ErrorIs(t, err, ErrDispatchFailed)
	assert.Zero(t, recorder.calls)
}

// TestDispatchUnreadableSuccess tests that a 200 reply without a usable
// deployment ID is treated as a failed dispatch.
func TestDispatchUnreadableSuccess(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>proxy error</html>"},
		{name: "missing deployment id", body: `{"status":"started","mapped_ports":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer worker.Close()

			recorder := &fakeRecorder{}
			d := New(&fakeSelector{id: "agent-1", rec: fabric.AgentRecord{IP: endpoint(worker)}}, recorder, zap.NewNop())

			_, err := d.Dispatch(context.Background(), "user_code_image_abc12345")
			assert.ErrorIs(t, err, ErrDispatchFailed)
			assert.Zero(t, recorder.calls)
		})
	}
}

// TestProxyLogs tests that log queries reach the worker with the right
// query parameter and that replies pass through verbatim, error statuses
// included.
func TestProxyLogs(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/deployment_logs", r.URL.Path)

		switch r.URL.Query().Get("deployment_id") {
		case "dep-1":
			_, _ = w.Write([]byte(`{"status":"running","logs":"hello\n","mapped_ports":{}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"unknown deployment","code":"unknown_deployment"}`))
		}
	}))
	defer worker.Close()

	d := New(&fakeSelector{}, &fakeRecorder{}, zap.NewNop())

	reply, err := d.ProxyLogs(context.Background(), endpoint(worker), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, reply.StatusCode)
	assert.JSONEq(t, `{"status":"running","logs":"hello\n","mapped_ports":{}}`, string(reply.Body))

	// A worker-side error is a reply to relay, not a transport failure.
	reply, err = d.ProxyLogs(context.Background(), endpoint(worker), "dep-gone")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, reply.StatusCode)
	assert.Contains(t, string(reply.Body), "unknown_deployment")
}

// TestProxyCancel tests the cancel relay wire shape and verbatim reply.
func TestProxyCancel(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cancel_deployment", r.URL.Path)

		var req fabric.CancelDeploymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dep-1", req.DeploymentID)

		_, _ = w.Write([]byte(`{"status":"cancelled","deployment_id":"dep-1"}`))
	}))
	defer worker.Close()

	d := New(&fakeSelector{}, &fakeRecorder{}, zap.NewNop())

	reply, err := d.ProxyCancel(context.Background(), endpoint(worker), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, reply.StatusCode)
	assert.JSONEq(t, `{"status":"cancelled","deployment_id":"dep-1"}`, string(reply.Body))
}

// TestProxyTransportFailure tests that an unreachable worker is an error on
// both proxy paths.
func TestProxyTransportFailure(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := endpoint(worker)
	worker.Close()

	d := New(&fakeSelector{}, &fakeRecorder{}, zap.NewNop())

	_, err := d.ProxyLogs(context.Background(), addr, "dep-1")
	assert.Error(t, err)

	_, err = d.ProxyCancel(context.Background(), addr, "dep-1")
	assert.Error(t, err)
}
