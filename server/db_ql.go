package server

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
)

// This file implements the record database on top of the QL embedded
// database. It needs no external server, so it is the default.

type qlRecords struct {
	db *sql.DB
}

var _ RecordDB = &qlRecords{}

const qlRecordInit = `
	CREATE TABLE IF NOT EXISTS records (
		item string,
		size int64,
		origin string,
		username string,
		created time
	);
	CREATE INDEX IF NOT EXISTS recorditem ON records (item);
	CREATE INDEX IF NOT EXISTS recordcreated ON records (created);
`

// NewQlRecords makes a QL record database. filename is the name of the
// file to save the database to. The filename "memory" means to keep
// everything in memory.
func NewQlRecords(filename string) (*qlRecords, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "records.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlRecordInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlRecords{db: db}, nil
}

func (qr *qlRecords) SaveRecord(r BundleRecord) error {
	const query = `INSERT INTO records VALUES (?1, ?2, ?3, ?4, ?5)`

	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	_, err := performExec(qr.db, query, r.Key, r.Size, r.Origin, r.User, r.Created)
	return err
}

func (qr *qlRecords) Recent(limit int) ([]BundleRecord, error) {
	// QL wants the limit spliced into the statement
	query := fmt.Sprintf(`
		SELECT item, size, origin, username, created
		FROM records
		ORDER BY created DESC
		LIMIT %d`, limit)

	rows, err := qr.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []BundleRecord
	for rows.Next() {
		var r BundleRecord
		err = rows.Scan(&r.Key, &r.Size, &r.Origin, &r.User, &r.Created)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (qr *qlRecords) LookupRecord(key string) (BundleRecord, error) {
	const query = `
		SELECT item, size, origin, username, created
		FROM records
		WHERE item == ?1
		ORDER BY created DESC
		LIMIT 1`

	var r BundleRecord
	err := qr.db.QueryRow(query, key).Scan(
		&r.Key, &r.Size, &r.Origin, &r.User, &r.Created)
	return r, err
}

func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
