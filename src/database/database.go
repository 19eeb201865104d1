package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/tradelog/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateTradesTable()
	migrateConnectionsTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		login TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NOT NULL,
		position_key TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL,
		provenance TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id),
		UNIQUE(user_id, provider, login, position_key, external_id)
	);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		platform TEXT NOT NULL,
		environment TEXT NOT NULL,
		server TEXT NOT NULL,
		login TEXT NOT NULL,
		remote_account_id TEXT,
		credential_hash TEXT,
		status TEXT NOT NULL DEFAULT 'created',
		last_import_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id),
		UNIQUE(user_id, server, login, platform, environment)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

func tableColumns(table string) (map[string]bool, bool) {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("table does not exist, no migration needed as table will be created", "table", table)
			} else {
				stdlog.Printf("'%s' table does not exist, no migration needed as table will be created.", table)
			}
			return nil, false
		}
		if logger.L != nil {
			logger.L.Error("Error checking for table", "table", table, "error", err)
		} else {
			stdlog.Printf("Error checking for '%s' table: %v", table, err)
		}
		return nil, false
	}

	rows, err := DB.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema", "table", table, "error", err)
		} else {
			stdlog.Printf("Error querying table schema for '%s': %v", table, err)
		}
		return nil, false
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info", "table", table, "error", err)
			} else {
				stdlog.Printf("Error scanning column info for '%s': %v", table, err)
			}
			return nil, false
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info", "table", table, "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for '%s': %v", table, err)
		}
		return nil, false
	}
	return columnExists, true
}

func addColumnIfMissing(columnExists map[string]bool, table, column, definition string) {
	if _, ok := columnExists[column]; ok {
		return
	}
	_, err := DB.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + definition)
	if err != nil {
		logger.L.Error("Error adding column", "table", table, "column", column, "error", err)
	} else {
		logger.L.Info("Added column", "table", table, "column", column)
	}
}

func migrateTradesTable() {
	columnExists, ok := tableColumns("trades")
	if !ok {
		return
	}
	addColumnIfMissing(columnExists, "trades", "pnl_percent", "REAL")
	addColumnIfMissing(columnExists, "trades", "provenance", "TEXT")
	addColumnIfMissing(columnExists, "trades", "login", "TEXT NOT NULL DEFAULT ''")
	addColumnIfMissing(columnExists, "trades", "external_id", "TEXT NOT NULL DEFAULT ''")
	addColumnIfMissing(columnExists, "trades", "updated_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP")
}

func migrateConnectionsTable() {
	columnExists, ok := tableColumns("connections")
	if !ok {
		return
	}
	addColumnIfMissing(columnExists, "connections", "credential_hash", "TEXT")
	addColumnIfMissing(columnExists, "connections", "last_import_at", "TIMESTAMP")
	addColumnIfMissing(columnExists, "connections", "remote_account_id", "TEXT")
}
