package bridge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/username/tradelog/backend/src/database"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/storage"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// fakeAccountClient scripts the remote provisioning service.
type fakeAccountClient struct {
	mu          sync.Mutex
	provisions  []ProvisionRequest
	deploys     []string
	deployErr   error
	states      []AccountState
	stateIdx    int
	credentials map[string]string
	deals       []models.RawDeal
	dealCalls   int
}

func (f *fakeAccountClient) ProvisionAccount(_ context.Context, req ProvisionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions = append(f.provisions, req)
	return "acc-1", nil
}

func (f *fakeAccountClient) DeployAccount(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deployErr != nil {
		return f.deployErr
	}
	f.deploys = append(f.deploys, accountID)
	return nil
}

func (f *fakeAccountClient) GetAccountState(_ context.Context, _ string) (AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return StateDeployed, nil
	}
	state := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	return state, nil
}

func (f *fakeAccountClient) UpdateAccountCredentials(_ context.Context, accountID, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credentials == nil {
		f.credentials = make(map[string]string)
	}
	f.credentials[accountID] = credential
	return nil
}

// GetDeals returns the scripted fills that fall inside the window, so
// sequential window fetches see each fill exactly once.
func (f *fakeAccountClient) GetDeals(_ context.Context, _ string, from, to time.Time) ([]models.RawDeal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dealCalls++
	var out []models.RawDeal
	for _, d := range f.deals {
		if !d.Timestamp.Before(from) && d.Timestamp.Before(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []models.ImportSummary
}

func (n *fakeNotifier) ImportCompleted(_ int64, _ string, summary models.ImportSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, summary)
}

func newTestService(t *testing.T, client AccountClient, notifier Notifier) (*Service, *storage.ConnectionStore, *storage.TradeStore) {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { database.DB.Close() })

	connections := storage.NewConnectionStore(database.DB)
	trades := storage.NewTradeStore(database.DB)
	svc := NewService(client, connections, trades, cache.New(time.Minute, time.Minute), notifier, ServiceConfig{
		ImportWindowDays:   90,
		DeployPollInterval: time.Millisecond,
		DeployTimeout:      100 * time.Millisecond,
		UpsertBatchSize:    200,
	})
	return svc, connections, trades
}

func connectReq() ConnectRequest {
	return ConnectRequest{
		Platform:    "mt5",
		Environment: "demo",
		Server:      "Broker-Demo",
		Login:       "12345",
		Credential:  "s3cret",
	}
}

func TestConnectProvisionsAndDeploys(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeploying, StateDeployed}}
	svc, connections, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	assert.Equal(t, models.StatusConnected, conn.Status)
	assert.Equal(t, "acc-1", conn.RemoteAccountID)
	assert.NotEmpty(t, conn.ID)
	require.Len(t, client.provisions, 1)
	assert.Equal(t, "s3cret", client.provisions[0].Credential)
	assert.Equal(t, []string{"acc-1"}, client.deploys)

	// Only a fingerprint of the credential is persisted.
	stored, err := connections.GetByID(conn.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.CredentialHash, "s3cret")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.CredentialHash), []byte("s3cret")))
	assert.Equal(t, models.StatusConnected, stored.Status)
}

func TestConnectExistingSameCredentialDoesNotReprovision(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, _, _ := newTestService(t, client, nil)

	first, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)
	second, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, client.provisions, 1)
	assert.Empty(t, client.credentials)
}

func TestConnectChangedCredentialPushedToProxy(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, connections, _ := newTestService(t, client, nil)

	first, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	changed := connectReq()
	changed.Credential = "changed-pass"
	second, err := svc.Connect(context.Background(), 1, changed)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, client.provisions, 1)
	assert.Equal(t, "changed-pass", client.credentials["acc-1"])

	stored, err := connections.GetByID(first.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.CredentialHash), []byte("changed-pass")))
}

func TestConnectDeployFailureMarksError(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployFailed}}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, conn.Status)
}

func TestConnectDeployRequestErrorMarksError(t *testing.T) {
	client := &fakeAccountClient{deployErr: NewAPIError(KindServerError, "proxy unavailable")}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, conn.Status)
	assert.Empty(t, client.deploys)
}

func TestConnectDeployTimeoutLeavesDeploying(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeploying}}
	svc, connections, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	// Timeout is not a failure; a later status check may resolve it.
	assert.Equal(t, models.StatusDeploying, conn.Status)
	stored, err := connections.GetByID(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeploying, stored.Status)
}

func TestConnectValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAccountClient{}, nil)

	cases := []func(*ConnectRequest){
		func(r *ConnectRequest) { r.Platform = "ninjatrader" },
		func(r *ConnectRequest) { r.Environment = "paper" },
		func(r *ConnectRequest) { r.Server = "" },
		func(r *ConnectRequest) { r.Login = "" },
		func(r *ConnectRequest) { r.Credential = "" },
	}
	for _, mutate := range cases {
		req := connectReq()
		mutate(&req)
		_, err := svc.Connect(context.Background(), 1, req)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, KindBadRequest, apiErr.Kind)
	}
}

func TestImportIsIdempotent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeAccountClient{
		states: []AccountState{StateDeployed},
		deals: []models.RawDeal{
			{ExternalID: "d1", PositionKey: "p1", Symbol: "EURUSD", SideHint: "buy", Price: 1.08, Volume: 1, Timestamp: ts, EntryMarker: models.EntryIn},
			{ExternalID: "d2", PositionKey: "p1", Symbol: "EURUSD", SideHint: "sell", Price: 1.09, Volume: 1, Timestamp: ts.Add(time.Hour), EntryMarker: models.EntryOut, Profit: 100},
		},
	}
	notifier := &fakeNotifier{}
	svc, _, trades := newTestService(t, client, notifier)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	summary, err := svc.Import(context.Background(), 1, conn.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalFetched)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 0, summary.Upserted)

	// Replaying the full range converges instead of duplicating.
	summary, err = svc.Import(context.Background(), 1, conn.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Imported)
	assert.Equal(t, 1, summary.Upserted)

	count, err := trades.CountTradesForLogin(1, "mt5", "12345")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Len(t, notifier.completed, 2)
}

func TestImportWalksSequentialWindows(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 200)
	_, err = svc.Import(context.Background(), 1, conn.ID, &from, &to)
	require.NoError(t, err)

	// 200 days at 90 days per window.
	assert.Equal(t, 3, client.dealCalls)
}

func TestImportRecordsLastImportTime(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, connections, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	_, err = svc.Import(context.Background(), 1, conn.ID, &from, &to)
	require.NoError(t, err)

	stored, err := connections.GetByID(conn.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastImportAt)
}

func TestImportRejectsForeignConnection(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	_, err = svc.Import(context.Background(), 2, conn.ID, nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindNotFound, apiErr.Kind)
}

func TestImportUnknownConnection(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeAccountClient{}, nil)

	_, err := svc.Import(context.Background(), 1, "nope", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindNotFound, apiErr.Kind)
}

func TestImportEmptyRange(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)
	_, err = svc.Import(context.Background(), 1, conn.ID, &from, &to)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindBadRequest, apiErr.Kind)
}

func TestStatusCountsTradesPerLogin(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeAccountClient{
		states: []AccountState{StateDeployed},
		deals: []models.RawDeal{
			{ExternalID: "d1", PositionKey: "p1", Symbol: "EURUSD", SideHint: "buy", Price: 1.08, Volume: 1, Timestamp: ts, EntryMarker: models.EntryIn},
			{ExternalID: "d2", PositionKey: "p1", Symbol: "EURUSD", SideHint: "sell", Price: 1.09, Volume: 1, Timestamp: ts.Add(time.Hour), EntryMarker: models.EntryOut, Profit: 100},
		},
	}
	svc, _, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	views, err := svc.Status(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 0, views[0].TradeCount)

	_, err = svc.Import(context.Background(), 1, conn.ID, nil, nil)
	require.NoError(t, err)

	views, err = svc.Status(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].TradeCount)
	assert.Equal(t, models.StatusConnected, views[0].Connection.Status)
}

func TestDisconnect(t *testing.T) {
	client := &fakeAccountClient{states: []AccountState{StateDeployed}}
	svc, connections, _ := newTestService(t, client, nil)

	conn, err := svc.Connect(context.Background(), 1, connectReq())
	require.NoError(t, err)

	// Wrong owner gets the same surface as a missing connection.
	err = svc.Disconnect(context.Background(), 2, conn.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindNotFound, apiErr.Kind)

	require.NoError(t, svc.Disconnect(context.Background(), 1, conn.ID))
	_, err = connections.GetByID(conn.ID)
	assert.ErrorIs(t, err, storage.ErrConnectionNotFound)
}

func TestSplitWindows(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 200)

	windows := SplitWindows(from, to, 90)
	require.Len(t, windows, 3)
	assert.Equal(t, from, windows[0].From)
	assert.Equal(t, to, windows[2].To)
	for i, w := range windows {
		assert.True(t, w.From.Before(w.To), "window %d", i)
		assert.LessOrEqual(t, w.To.Sub(w.From), 90*24*time.Hour, "window %d", i)
		if i > 0 {
			assert.Equal(t, windows[i-1].To, w.From, "window %d contiguous", i)
		}
	}

	// Range shorter than one window clamps to a single slice.
	short := SplitWindows(from, from.AddDate(0, 0, 10), 90)
	require.Len(t, short, 1)
	assert.Equal(t, from.AddDate(0, 0, 10), short[0].To)

	assert.Empty(t, SplitWindows(from, from, 90))
}
