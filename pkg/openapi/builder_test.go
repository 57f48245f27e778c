package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCarriesAllowSets(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{Method: "GET", Path: "/v1/tenants/{tenantID}/members", Summary: "List members", Allow: []string{"user", "private"}})
	r.Register(Operation{Method: "GET", Path: "/healthz", Summary: "Liveness", Allow: []string{"public"}})

	doc := r.Build("gatehouse", "v1")
	paths := doc["paths"].(map[string]any)
	members := paths["/v1/tenants/{tenantID}/members"].(map[string]any)["get"].(map[string]any)
	assert.Equal(t, []string{"user", "private"}, members["x-allow"])
	assert.Equal(t, []map[string][]string{{"bearer": {}}, {"apikey": {}}}, members["security"])

	health := paths["/healthz"].(map[string]any)["get"].(map[string]any)
	assert.Equal(t, []map[string][]string{{}}, health["security"])
}

func TestOperationsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{Method: "POST", Path: "/b"})
	r.Register(Operation{Method: "GET", Path: "/b"})
	r.Register(Operation{Method: "GET", Path: "/a"})

	ops := r.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, "/a", ops[0].Path)
	assert.Equal(t, "get", ops[1].Method)
	assert.Equal(t, "post", ops[2].Method)
}

func TestServeHandler(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{Method: "post", Path: "/v1/auth/token", Allow: []string{"private"}})
	rec := httptest.NewRecorder()
	r.ServeHandler("gatehouse", "v1")(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		OpenAPI string                               `json:"openapi"`
		Paths   map[string]map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
	assert.Equal(t, []any{"private"}, doc.Paths["/v1/auth/token"]["post"]["x-allow"])
}
