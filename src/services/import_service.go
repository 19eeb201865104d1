package services

import (
	"errors"
	"fmt"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers"
	"github.com/username/tradelog/backend/src/storage"
)

var (
	ErrParsingFailed = errors.New("error parsing report file")
	// ErrQuotaExceeded is the pass/fail quota gate enforced before
	// persisting; plan management itself lives outside this backend.
	ErrQuotaExceeded = errors.New("trade quota exceeded for user plan")
)

// FileImportResult summarizes one report-file import.
type FileImportResult struct {
	Parsed  int `json:"parsed"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// FileImportService runs the client-side reconciliation path: report
// bytes in, canonical trades merged into the store.
type FileImportService struct {
	trades           *storage.TradeStore
	maxTradesPerUser int
	batchSize        int
}

func NewFileImportService(trades *storage.TradeStore, maxTradesPerUser, batchSize int) *FileImportService {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &FileImportService{
		trades:           trades,
		maxTradesPerUser: maxTradesPerUser,
		batchSize:        batchSize,
	}
}

// ImportFile parses a report file and merges its trades. Parsing is
// synchronous and completes, including row-level drops, before any
// write happens.
func (s *FileImportService) ImportFile(data []byte, filename string, userID int64) (*FileImportResult, error) {
	trades, err := parsers.ParseReport(data, filename)
	if err != nil {
		if errors.Is(err, parsers.ErrNoTrades) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	if s.maxTradesPerUser > 0 {
		existing, countErr := s.trades.CountTradesForUser(userID)
		if countErr != nil {
			return nil, countErr
		}
		if existing+len(trades) > s.maxTradesPerUser {
			logger.L.Warn("Rejecting import over plan quota", "userID", userID, "existing", existing, "parsed", len(trades), "limit", s.maxTradesPerUser)
			return nil, ErrQuotaExceeded
		}
	}

	result := &FileImportResult{Parsed: len(trades)}
	for i := 0; i < len(trades); i += s.batchSize {
		end := i + s.batchSize
		if end > len(trades) {
			end = len(trades)
		}
		inserted, updated, err := s.trades.UpsertBatch(userID, trades[i:end])
		result.Created += inserted
		result.Updated += updated
		if err != nil {
			return result, fmt.Errorf("trade merge aborted after %d rows: %w", result.Created+result.Updated, err)
		}
	}

	logger.L.Info("Report file imported", "userID", userID, "filename", filename, "parsed", result.Parsed, "created", result.Created, "updated", result.Updated)
	return result, nil
}

// ListTrades returns the user's persisted trades for display.
func (s *FileImportService) ListTrades(userID int64) ([]models.CanonicalTrade, error) {
	return s.trades.ListTrades(userID)
}
