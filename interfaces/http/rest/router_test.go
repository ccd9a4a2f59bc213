package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prism-backend/application/services"
	"prism-backend/infrastructure/persistence/memory"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	service := services.NewGraphService(memory.New(), nil, nil)
	router := NewRouter(service, zap.NewNop(), nil, "alice", nil)
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateVoteDeleteFlow(t *testing.T) {
	srv := testServer(t)

	var created struct {
		ID string `json:"id"`
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/nodes",
		map[string]any{"label": "Idea", "x": 10, "y": 20}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.ID)

	var graph struct {
		Nodes []struct {
			ID              string   `json:"id"`
			InterestedUsers []string `json:"interested_users"`
		} `json:"nodes"`
	}
	status = doJSON(t, http.MethodGet, srv.URL+"/api/v1/graph", nil, &graph)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, []string{"alice"}, graph.Nodes[0].InterestedUsers)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/nodes/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestDeleteEncumberedNodeReturnsConflict(t *testing.T) {
	srv := testServer(t)

	var created struct {
		ID string `json:"id"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/nodes",
		map[string]any{"label": "Shared idea"}, &created)

	// Another user votes through the header-based identity.
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/nodes/"+created.ID+"/vote",
		bytes.NewBufferString(`{"interested": true}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "bob")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refusal struct {
		Error         string `json:"error"`
		ExternalUsers []struct {
			UserID string `json:"user_id"`
		} `json:"external_users"`
	}
	status := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/nodes/"+created.ID, nil, &refusal)
	require.Equal(t, http.StatusConflict, status)
	require.Len(t, refusal.ExternalUsers, 1)
	assert.Equal(t, "bob", refusal.ExternalUsers[0].UserID)

	status = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/nodes/"+created.ID+"?force=true", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUnknownNodeReturns404(t *testing.T) {
	srv := testServer(t)
	status := doJSON(t, http.MethodPut, srv.URL+"/api/v1/nodes/missing/vote",
		map[string]any{"interested": true}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
