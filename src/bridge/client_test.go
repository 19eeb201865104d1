package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradelog/backend/src/models"
)

func TestClientProvisionAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/current/accounts", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ProvisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mt5", req.Platform)
		assert.Equal(t, "demo", req.Environment)
		assert.Equal(t, "s3cret", req.Credential)

		json.NewEncoder(w).Encode(map[string]string{"id": "acc-42"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	id, err := client.ProvisionAccount(context.Background(), ProvisionRequest{
		Platform:    "mt5",
		Environment: "demo",
		Server:      "Broker-Demo",
		Login:       "12345",
		Credential:  "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "acc-42", id)
}

func TestClientDeployAndState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users/current/accounts/acc-1/deploy":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/users/current/accounts/acc-1":
			json.NewEncoder(w).Encode(map[string]string{"state": "DEPLOYED"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	require.NoError(t, client.DeployAccount(context.Background(), "acc-1"))

	state, err := client.GetAccountState(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, StateDeployed, state)
}

func TestClientErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindServerError},
	}
	for _, c := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			json.NewEncoder(w).Encode(map[string]string{"message": "remote says no"})
		}))

		client := NewClient(server.URL, "test-token")
		err := client.DeployAccount(context.Background(), "acc-1")
		server.Close()

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "status %d", c.status)
		assert.Equal(t, c.kind, apiErr.Kind, "status %d", c.status)
		assert.Equal(t, c.status, apiErr.StatusCode, "status %d", c.status)
		assert.Equal(t, "remote says no", apiErr.Message, "status %d", c.status)
	}
}

func TestClientGetDeals(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 90)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/current/accounts/acc-1/history-deals/time/2024-03-01T00:00:00Z/2024-05-30T00:00:00Z", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"deals": []map[string]any{
				{
					"id": "d1", "positionId": "p1", "symbol": "EURUSD",
					"type": "DEAL_TYPE_BUY", "entryType": "DEAL_ENTRY_IN",
					"price": 1.08, "volume": 1.0, "profit": 0.0,
					"commission": -3.5, "swap": 0.0,
					"time": "2024-03-01T10:00:00Z",
				},
				{
					"id": "d2", "positionId": "p1", "symbol": "EURUSD",
					"type": "DEAL_TYPE_SELL", "entryType": "DEAL_ENTRY_OUT",
					"price": 1.09, "volume": 1.0, "profit": 100.0,
					"commission": -3.5, "swap": -0.2,
					"time": "2024-03-01T15:00:00Z",
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	deals, err := client.GetDeals(context.Background(), "acc-1", from, to)
	require.NoError(t, err)
	require.Len(t, deals, 2)

	assert.Equal(t, "d1", deals[0].ExternalID)
	assert.Equal(t, "p1", deals[0].PositionKey)
	assert.Equal(t, models.EntryIn, deals[0].EntryMarker)
	assert.Equal(t, models.EntryOut, deals[1].EntryMarker)
	assert.InDelta(t, 100, deals[1].Profit, 1e-9)
}

func TestClientUpdateAccountCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/users/current/accounts/acc-1", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new-pass", body["password"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	require.NoError(t, client.UpdateAccountCredentials(context.Background(), "acc-1", "new-pass"))
}
