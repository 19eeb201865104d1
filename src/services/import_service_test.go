package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradelog/backend/src/database"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/parsers"
	"github.com/username/tradelog/backend/src/storage"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestImportService(t *testing.T, maxTradesPerUser int) *FileImportService {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { database.DB.Close() })
	trades := storage.NewTradeStore(database.DB)
	return NewFileImportService(trades, maxTradesPerUser, 200)
}

const csvReport = `Ticket,Symbol,Type,Open Time,Open Price,Close Price,Volume,Profit
1,EURUSD,buy,2024.03.01 10:00:00,1.08,1.09,1,10
2,GBPUSD,sell,2024.03.02 10:00:00,1.27,1.26,1,50
`

func TestImportFileAndReimport(t *testing.T) {
	svc := newTestImportService(t, 0)

	result, err := svc.ImportFile([]byte(csvReport), "report.csv", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Parsed)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)

	// Re-importing the same file converges on the same rows.
	result, err = svc.ImportFile([]byte(csvReport), "report.csv", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Parsed)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Updated)

	trades, err := svc.ListTrades(1)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestImportFileNoTrades(t *testing.T) {
	svc := newTestImportService(t, 0)

	_, err := svc.ImportFile([]byte("nothing resembling a report"), "junk.txt", 1)
	assert.ErrorIs(t, err, parsers.ErrNoTrades)

	trades, listErr := svc.ListTrades(1)
	require.NoError(t, listErr)
	assert.Empty(t, trades)
}

func TestImportFileQuota(t *testing.T) {
	svc := newTestImportService(t, 3)

	_, err := svc.ImportFile([]byte(csvReport), "report.csv", 1)
	require.NoError(t, err)

	over := csvReport + "3,USDJPY,buy,2024.03.03 10:00:00,150.0,151.0,1,30\n4,USDCHF,sell,2024.03.04 10:00:00,0.9,0.89,1,20\n"
	_, err = svc.ImportFile([]byte(over), "more.csv", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Quota is per user; another user is unaffected.
	_, err = svc.ImportFile([]byte(csvReport), "report.csv", 2)
	assert.NoError(t, err)
}
