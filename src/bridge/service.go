package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/username/tradelog/backend/src/aggregator"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/storage"
)

// importEpoch is the default lower bound when a caller omits "from";
// no supported broker history predates it.
var importEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const ckLoginTradeCount = "bridge_trade_count_user_%d_%s_%s"

// ConnectRequest is the caller-supplied account binding.
type ConnectRequest struct {
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
	Server      string `json:"server"`
	Login       string `json:"login"`
	Credential  string `json:"credential"`
}

// ConnectionStatusView is one Status row: the connection plus a derived
// trade count, for display purposes only.
type ConnectionStatusView struct {
	Connection *models.Connection `json:"connection"`
	TradeCount int                `json:"trade_count"`
}

// Notifier is told when a remote import completes. Implementations
// must not fail the import; errors are theirs to log.
type Notifier interface {
	ImportCompleted(userID int64, login string, summary models.ImportSummary)
}

// ServiceConfig carries the tunables of the import service.
type ServiceConfig struct {
	ImportWindowDays   int
	DeployPollInterval time.Duration
	DeployTimeout      time.Duration
	UpsertBatchSize    int
}

// Service provisions remote account proxies and runs history imports.
type Service struct {
	client      AccountClient
	connections *storage.ConnectionStore
	trades      *storage.TradeStore
	statusCache *cache.Cache
	notifier    Notifier
	cfg         ServiceConfig
}

func NewService(client AccountClient, connections *storage.ConnectionStore, trades *storage.TradeStore, statusCache *cache.Cache, notifier Notifier, cfg ServiceConfig) *Service {
	if cfg.ImportWindowDays <= 0 {
		cfg.ImportWindowDays = 90
	}
	if cfg.DeployPollInterval <= 0 {
		cfg.DeployPollInterval = 5 * time.Second
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = 3 * time.Minute
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 200
	}
	return &Service{
		client:      client,
		connections: connections,
		trades:      trades,
		statusCache: statusCache,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// Connect binds a user to a remote account proxy, provisioning one on
// first connect and reusing the existing row afterwards. A changed
// credential is pushed to the proxy; the plaintext itself is never
// stored, only a bcrypt fingerprint for change detection.
func (s *Service) Connect(ctx context.Context, userID int64, req ConnectRequest) (*models.Connection, error) {
	if err := validateConnectRequest(req); err != nil {
		return nil, err
	}

	conn, err := s.connections.FindByAccount(userID, req.Server, req.Login, req.Platform, req.Environment)
	if err != nil && !errors.Is(err, storage.ErrConnectionNotFound) {
		return nil, err
	}

	if conn != nil {
		if bcrypt.CompareHashAndPassword([]byte(conn.CredentialHash), []byte(req.Credential)) != nil {
			logger.L.Info("Credential changed for connection, updating remote proxy", "connectionID", conn.ID)
			if err := s.client.UpdateAccountCredentials(ctx, conn.RemoteAccountID, req.Credential); err != nil {
				return nil, err
			}
			hash, hashErr := bcrypt.GenerateFromPassword([]byte(req.Credential), bcrypt.DefaultCost)
			if hashErr != nil {
				return nil, fmt.Errorf("error fingerprinting credential: %w", hashErr)
			}
			if err := s.connections.UpdateCredentialHash(conn.ID, string(hash)); err != nil {
				return nil, err
			}
			conn.CredentialHash = string(hash)
		}
		if conn.Status != models.StatusConnected {
			s.deployAndPoll(ctx, conn)
		}
		return conn, nil
	}

	accountID, err := s.client.ProvisionAccount(ctx, ProvisionRequest{
		Platform:    req.Platform,
		Environment: req.Environment,
		Server:      req.Server,
		Login:       req.Login,
		Credential:  req.Credential,
	})
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Credential), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error fingerprinting credential: %w", err)
	}

	conn = &models.Connection{
		ID:              uuid.NewString(),
		UserID:          userID,
		Platform:        req.Platform,
		Environment:     req.Environment,
		Server:          req.Server,
		Login:           req.Login,
		RemoteAccountID: accountID,
		CredentialHash:  string(hash),
		Status:          models.StatusCreated,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.connections.Insert(conn); err != nil {
		return nil, err
	}
	logger.L.Info("Connection created", "connectionID", conn.ID, "platform", conn.Platform, "login", conn.Login)

	s.deployAndPoll(ctx, conn)
	return conn, nil
}

// deployAndPoll requests deployment and polls the remote state at a
// fixed interval up to a hard timeout. A timeout leaves the connection
// in deploying for a later status check to resolve; only an explicit
// deploy failure transitions it to error.
func (s *Service) deployAndPoll(ctx context.Context, conn *models.Connection) {
	if err := s.client.DeployAccount(ctx, conn.RemoteAccountID); err != nil {
		logger.L.Error("Deploy request failed", "connectionID", conn.ID, "error", err)
		s.setStatus(conn, models.StatusError)
		return
	}
	s.setStatus(conn, models.StatusDeploying)

	deadline := time.Now().Add(s.cfg.DeployTimeout)
	for time.Now().Before(deadline) {
		state, err := s.client.GetAccountState(ctx, conn.RemoteAccountID)
		if err != nil {
			logger.L.Warn("Deploy state poll failed", "connectionID", conn.ID, "error", err)
		} else {
			switch state {
			case StateDeployed:
				s.setStatus(conn, models.StatusConnected)
				logger.L.Info("Connection deployed", "connectionID", conn.ID)
				return
			case StateDeployFailed:
				s.setStatus(conn, models.StatusError)
				logger.L.Error("Deployment failed on remote service", "connectionID", conn.ID)
				return
			}
		}
		select {
		case <-ctx.Done():
			logger.L.Warn("Deploy polling cancelled by request context", "connectionID", conn.ID)
			return
		case <-time.After(s.cfg.DeployPollInterval):
		}
	}
	logger.L.Warn("Deploy polling timed out, connection left in deploying", "connectionID", conn.ID)
}

func (s *Service) setStatus(conn *models.Connection, status models.ConnectionStatus) {
	conn.Status = status
	if err := s.connections.UpdateStatus(conn.ID, status); err != nil {
		logger.L.Error("Failed to persist connection status", "connectionID", conn.ID, "status", status, "error", err)
	}
}

// Import fetches the connection's execution history in sequential
// bounded windows, reconciles the fills and merges the result into the
// trade store. Re-running over the same or an overlapping range is
// safe; the merge key makes the outcome convergent.
func (s *Service) Import(ctx context.Context, userID int64, connectionID string, from, to *time.Time) (models.ImportSummary, error) {
	var summary models.ImportSummary

	conn, err := s.connections.GetByID(connectionID)
	if err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			return summary, NewAPIError(KindNotFound, "connection not found")
		}
		return summary, err
	}
	if conn.UserID != userID {
		// Same surface as a missing row; do not leak other users' ids.
		return summary, NewAPIError(KindNotFound, "connection not found")
	}

	start := importEpoch
	if from != nil {
		start = from.UTC()
	}
	end := time.Now().UTC()
	if to != nil {
		end = to.UTC()
	}
	if !start.Before(end) {
		return summary, NewAPIError(KindBadRequest, "import range is empty")
	}

	var deals []models.RawDeal
	for _, window := range SplitWindows(start, end, s.cfg.ImportWindowDays) {
		windowDeals, err := s.client.GetDeals(ctx, conn.RemoteAccountID, window.From, window.To)
		if err != nil {
			return summary, err
		}
		deals = append(deals, windowDeals...)
	}
	summary.TotalFetched = len(deals)

	trades := aggregator.Aggregate(deals, conn.Platform, conn.Login)
	logger.L.Info("Remote history reconciled", "connectionID", conn.ID, "fills", len(deals), "trades", len(trades))

	for i := 0; i < len(trades); i += s.cfg.UpsertBatchSize {
		end := i + s.cfg.UpsertBatchSize
		if end > len(trades) {
			end = len(trades)
		}
		inserted, updated, err := s.trades.UpsertBatch(userID, trades[i:end])
		summary.Imported += inserted
		summary.Upserted += updated
		if err != nil {
			// Earlier batches stay committed; report partial progress.
			logger.L.Error("Trade batch merge failed, aborting remaining batches", "connectionID", conn.ID, "persisted", summary.Imported+summary.Upserted, "error", err)
			return summary, fmt.Errorf("trade merge aborted after %d rows: %w", summary.Imported+summary.Upserted, err)
		}
	}

	if err := s.connections.TouchLastImport(conn.ID, time.Now().UTC()); err != nil {
		logger.L.Warn("Failed to record last import time", "connectionID", conn.ID, "error", err)
	}
	s.invalidateStatusCache(userID, conn)

	if s.notifier != nil {
		s.notifier.ImportCompleted(userID, conn.Login, summary)
	}
	return summary, nil
}

// Disconnect removes a connection binding. Trades already imported
// through it are kept; only the binding and its fingerprint go away.
func (s *Service) Disconnect(ctx context.Context, userID int64, connectionID string) error {
	if err := s.connections.Delete(connectionID, userID); err != nil {
		if errors.Is(err, storage.ErrConnectionNotFound) {
			return NewAPIError(KindNotFound, "connection not found")
		}
		return err
	}
	logger.L.Info("Connection removed", "connectionID", connectionID, "userID", userID)
	return nil
}

// Status lists a user's connections with a derived per-login trade
// count. Counts are cached briefly; imports invalidate them.
func (s *Service) Status(ctx context.Context, userID int64) ([]ConnectionStatusView, error) {
	conns, err := s.connections.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	views := make([]ConnectionStatusView, 0, len(conns))
	for _, conn := range conns {
		count, err := s.loginTradeCount(userID, conn)
		if err != nil {
			logger.L.Warn("Failed to derive trade count", "connectionID", conn.ID, "error", err)
		}
		views = append(views, ConnectionStatusView{Connection: conn, TradeCount: count})
	}
	return views, nil
}

func (s *Service) loginTradeCount(userID int64, conn *models.Connection) (int, error) {
	key := fmt.Sprintf(ckLoginTradeCount, userID, conn.Platform, conn.Login)
	if s.statusCache != nil {
		if cached, found := s.statusCache.Get(key); found {
			return cached.(int), nil
		}
	}
	count, err := s.trades.CountTradesForLogin(userID, conn.Platform, conn.Login)
	if err != nil {
		return 0, err
	}
	if s.statusCache != nil {
		s.statusCache.Set(key, count, cache.DefaultExpiration)
	}
	return count, nil
}

func (s *Service) invalidateStatusCache(userID int64, conn *models.Connection) {
	if s.statusCache != nil {
		s.statusCache.Delete(fmt.Sprintf(ckLoginTradeCount, userID, conn.Platform, conn.Login))
	}
}

// SplitWindows slices [from, to) into contiguous windows of at most
// windowDays each, bounding per-request size against the remote
// service. The last window is clamped to the range end.
func SplitWindows(from, to time.Time, windowDays int) []models.ImportWindow {
	windowSize := time.Duration(windowDays) * 24 * time.Hour
	var windows []models.ImportWindow
	for cursor := from; cursor.Before(to); cursor = cursor.Add(windowSize) {
		windowEnd := cursor.Add(windowSize)
		if windowEnd.After(to) {
			windowEnd = to
		}
		windows = append(windows, models.ImportWindow{From: cursor, To: windowEnd})
	}
	return windows
}

func validateConnectRequest(req ConnectRequest) error {
	if req.Platform != "mt4" && req.Platform != "mt5" {
		return NewAPIError(KindBadRequest, "platform must be mt4 or mt5")
	}
	if req.Environment != "demo" && req.Environment != "live" {
		return NewAPIError(KindBadRequest, "environment must be demo or live")
	}
	if req.Server == "" || req.Login == "" || req.Credential == "" {
		return NewAPIError(KindBadRequest, "server, login and credential are required")
	}
	return nil
}
