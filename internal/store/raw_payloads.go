package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Upload is an archived copy of an uploaded measurement file.
type Upload struct {
	ID          int64
	UploadedAt  time.Time
	FileName    string
	SizeBytes   int64
	PayloadHash string
}

// HashPayload returns the hex SHA-256 used to deduplicate uploads.
func HashPayload(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// ArchiveUpload stores a gzip-compressed copy of an upload. Identical
// payloads are stored once; created is false for a duplicate. A duplicate
// refreshes uploaded_at so retention counts from the latest upload.
func (s *Store) ArchiveUpload(fileName string, payload []byte) (hash string, created bool, err error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return "", false, fmt.Errorf("compress upload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", false, fmt.Errorf("close gzip: %w", err)
	}
	hash = HashPayload(payload)

	tx, err := s.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM uploads WHERE payload_hash = ?`, hash).Scan(&existing); err != nil {
		return "", false, fmt.Errorf("check upload: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO uploads (uploaded_at, file_name, size_bytes, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO UPDATE SET uploaded_at = excluded.uploaded_at
	`, s.now(), fileName, len(payload), buf.Bytes(), hash)
	if err != nil {
		return "", false, fmt.Errorf("insert upload: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit upload: %w", err)
	}
	return hash, existing == 0, nil
}

// GetUploadPayload retrieves and decompresses an archived upload. It returns
// nil when the hash is unknown.
func (s *Store) GetUploadPayload(hash string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM uploads WHERE payload_hash = ?`, hash).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (s *Store) GetUpload(hash string) (*Upload, error) {
	var u Upload
	err := s.db.QueryRow(`
		SELECT id, uploaded_at, file_name, size_bytes, payload_hash
		FROM uploads WHERE payload_hash = ?
	`, hash).Scan(&u.ID, &u.UploadedAt, &u.FileName, &u.SizeBytes, &u.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CleanupOldUploads deletes archived uploads older than retentionDays.
// Returns the number of deleted records.
func (s *Store) CleanupOldUploads(retentionDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM uploads WHERE uploaded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
