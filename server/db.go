package server

import (
	"log"
	"time"

	"github.com/BurntSushi/migration"
)

// A BundleRecord is one row of populate history: who cached which key,
// from where, and how big the result was.
type BundleRecord struct {
	Key     string
	Size    int64
	Origin  string
	User    string
	Created time.Time
}

// A RecordDB stores one record per completed populate. Records are append
// only; a key populated, deleted, and populated again has two records.
type RecordDB interface {
	// SaveRecord appends a record. A zero Created is filled in with the
	// current time.
	SaveRecord(r BundleRecord) error
	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]BundleRecord, error)
	// LookupRecord returns the newest record for key. A key with no
	// records returns sql.ErrNoRows.
	LookupRecord(key string) (BundleRecord, error)
}

// we need to adapt the migration version functions to work with MySQL and QL
// This code is slightly modified from github.com/BurntSushi/migration

type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// we assume error means there is no migration table
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return err
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}
