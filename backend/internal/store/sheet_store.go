package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"sheetServer/backend/internal/sheet"
)

// SheetStore persists sheets in MySQL.
//
// Schema:
//
//	CREATE TABLE sheets (
//	    sheet_id      VARCHAR(64) PRIMARY KEY,
//	    set_by_gm     JSON NOT NULL,
//	    set_by_player JSON NOT NULL,
//	    gm_hash       VARCHAR(32) NOT NULL DEFAULT '',
//	    last_accessed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    KEY idx_last_accessed (last_accessed)
//	);
type SheetStore struct{ db *sql.DB }

func NewSheetStore(db *sql.DB) *SheetStore {
	return &SheetStore{db: db}
}

// FindByID loads a sheet and touches last_accessed. Returns (nil, nil)
// when the id is unknown.
func (s *SheetStore) FindByID(ctx context.Context, sheetID string) (*sheet.Sheet, error) {
	var sh sheet.Sheet
	var gm, player []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sheet_id, set_by_gm, set_by_player, gm_hash FROM sheets WHERE sheet_id = ?`,
		sheetID,
	).Scan(&sh.SheetID, &gm, &player, &sh.GMHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sh.SetByGM = gm
	sh.SetByPlayer = player

	// best effort, a read still counts as access for retention
	_, _ = s.db.ExecContext(ctx,
		`UPDATE sheets SET last_accessed = NOW() WHERE sheet_id = ?`,
		sheetID,
	)
	return &sh, nil
}

// Upsert writes the whole sheet, refreshing last_accessed.
func (s *SheetStore) Upsert(ctx context.Context, sh sheet.Sheet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sheets (sheet_id, set_by_gm, set_by_player, gm_hash, last_accessed)
		VALUES (?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			set_by_gm = VALUES(set_by_gm),
			set_by_player = VALUES(set_by_player),
			gm_hash = VALUES(gm_hash),
			last_accessed = NOW()`,
		sh.SheetID,
		[]byte(sh.SetByGM),
		[]byte(sh.SetByPlayer),
		sh.GMHash,
	)
	return err
}

// Insert creates the sheet, failing with ErrSheetExists when the id is
// already taken. The duplicate check rides on the primary key, so two
// concurrent creates for the same id cannot both succeed.
func (s *SheetStore) Insert(ctx context.Context, sh sheet.Sheet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sheets (sheet_id, set_by_gm, set_by_player, gm_hash, last_accessed)
		VALUES (?, ?, ?, ?, NOW())`,
		sh.SheetID,
		[]byte(sh.SetByGM),
		[]byte(sh.SetByPlayer),
		sh.GMHash,
	)
	var dup *mysql.MySQLError
	if errors.As(err, &dup) && dup.Number == 1062 {
		return sheet.ErrSheetExists
	}
	return err
}

// DeleteStale removes sheets not accessed since the cutoff. Run by the
// retention sweep; unrelated to the in-memory buffer.
func (s *SheetStore) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sheets WHERE last_accessed < ?`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
