package server

import (
	"database/sql"
	"log"
	"time"

	// no _ in import mysql since we need mysql.NullTime
	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
)

// This file implements the record database on top of a MySQL server, for
// deployments where more than one depotvault shares history.

type msqlRecords struct {
	db *sql.DB
}

var _ RecordDB = &msqlRecords{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlRecords connects to a MySQL database and returns a RecordDB
// backed by it. The schema is migrated as needed.
func NewMysqlRecords(dial string) (*msqlRecords, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &msqlRecords{db: db}, nil
}

func (mr *msqlRecords) SaveRecord(r BundleRecord) error {
	const query = `INSERT INTO records (item, size, origin, username, created) VALUES (?, ?, ?, ?, ?)`

	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	_, err := mr.db.Exec(query, r.Key, r.Size, r.Origin, r.User, r.Created)
	return err
}

func (mr *msqlRecords) Recent(limit int) ([]BundleRecord, error) {
	const query = `
		SELECT item, size, origin, username, created
		FROM records
		ORDER BY created DESC
		LIMIT ?`

	rows, err := mr.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []BundleRecord
	for rows.Next() {
		var r BundleRecord
		var when mysql.NullTime
		err = rows.Scan(&r.Key, &r.Size, &r.Origin, &r.User, &when)
		if err != nil {
			return nil, err
		}
		if when.Valid {
			r.Created = when.Time
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (mr *msqlRecords) LookupRecord(key string) (BundleRecord, error) {
	const query = `
		SELECT item, size, origin, username, created
		FROM records
		WHERE item = ?
		ORDER BY created DESC
		LIMIT 1`

	var r BundleRecord
	var when mysql.NullTime
	err := mr.db.QueryRow(query, key).Scan(
		&r.Key, &r.Size, &r.Origin, &r.User, &when)
	if when.Valid {
		r.Created = when.Time
	}
	return r, err
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS records (
		id int PRIMARY KEY AUTO_INCREMENT,
		item varchar(255),
		size bigint,
		origin varchar(255),
		username varchar(255),
		created datetime,
		INDEX records_item (item),
		INDEX records_created (created))`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around mysql driver not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
