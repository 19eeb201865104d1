package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/tradelog/backend/src/models"
)

// ErrConnectionNotFound is returned when no connection row matches.
var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionStore struct {
	db *sql.DB
}

func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

const connectionColumns = `id, user_id, platform, environment, server, login, remote_account_id, credential_hash, status, last_import_at, created_at`

func (s *ConnectionStore) Insert(conn *models.Connection) error {
	_, err := s.db.Exec(`INSERT INTO connections (id, user_id, platform, environment, server, login, remote_account_id, credential_hash, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.UserID, conn.Platform, conn.Environment, conn.Server, conn.Login,
		conn.RemoteAccountID, conn.CredentialHash, string(conn.Status), conn.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("error inserting connection %s: %w", conn.ID, err)
	}
	return nil
}

// FindByAccount looks up the connection for one (user, server, login,
// platform, environment) tuple; a first connect has none.
func (s *ConnectionStore) FindByAccount(userID int64, server, login, platform, environment string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? AND server = ? AND login = ? AND platform = ? AND environment = ?`,
		userID, server, login, platform, environment)
	return scanConnection(row)
}

func (s *ConnectionStore) GetByID(id string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	return scanConnection(row)
}

func (s *ConnectionStore) ListByUser(userID int64) ([]*models.Connection, error) {
	rows, err := s.db.Query(`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying connections for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, scanErr := scanConnection(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		conns = append(conns, conn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over connection rows for userID %d: %w", userID, err)
	}
	return conns, nil
}

func (s *ConnectionStore) UpdateStatus(id string, status models.ConnectionStatus) error {
	_, err := s.db.Exec(`UPDATE connections SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("error updating connection %s status: %w", id, err)
	}
	return nil
}

func (s *ConnectionStore) UpdateCredentialHash(id, credentialHash string) error {
	_, err := s.db.Exec(`UPDATE connections SET credential_hash = ? WHERE id = ?`, credentialHash, id)
	if err != nil {
		return fmt.Errorf("error updating connection %s credential hash: %w", id, err)
	}
	return nil
}

func (s *ConnectionStore) TouchLastImport(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE connections SET last_import_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("error updating connection %s last import time: %w", id, err)
	}
	return nil
}

// Delete removes a connection row. This is an explicit caller action,
// not a lifecycle transition; imported trades are kept.
func (s *ConnectionStore) Delete(id string, userID int64) error {
	result, err := s.db.Exec(`DELETE FROM connections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("error deleting connection %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var conn models.Connection
	var status, createdAt string
	var remoteAccountID, credentialHash, lastImportAt sql.NullString
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Platform, &conn.Environment, &conn.Server, &conn.Login,
		&remoteAccountID, &credentialHash, &status, &lastImportAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("error scanning connection row: %w", err)
	}
	conn.Status = models.ConnectionStatus(status)
	if remoteAccountID.Valid {
		conn.RemoteAccountID = remoteAccountID.String
	}
	if credentialHash.Valid {
		conn.CredentialHash = credentialHash.String
	}
	if lastImportAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastImportAt.String); parseErr == nil {
			conn.LastImportAt = &t
		}
	}
	conn.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &conn, nil
}
