package lending

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// ErrConflict is returned by SaveState when another session saved after
// this one last loaded.
var ErrConflict = errors.New("database was changed by another session")

// Database stores registry snapshots in SQLite. Every save bumps a
// revision counter in the meta table; a save is refused unless the stored
// revision still matches the one this Database last loaded or wrote.
type Database struct {
	db *sql.DB

	revision int64

	insertUserStmt         *sql.Stmt
	insertListingStmt      *sql.Stmt
	insertRequestStmt      *sql.Stmt
	insertNotificationStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Immediate transactions take the write lock up front, so the revision
	// check in SaveState cannot race another writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sql.Stmt{
		d.insertUserStmt, d.insertListingStmt, d.insertRequestStmt, d.insertNotificationStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            username TEXT PRIMARY KEY,
            password_hash TEXT NOT NULL,
            coins INTEGER NOT NULL DEFAULT 0,
            position INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS listings (
            position INTEGER PRIMARY KEY,
            listing_key INTEGER NOT NULL UNIQUE,
            name TEXT NOT NULL,
            category TEXT NOT NULL,
            condition TEXT NOT NULL,
            price INTEGER NOT NULL,
            quantity INTEGER NOT NULL,
            from_date TEXT NOT NULL,
            to_date TEXT NOT NULL,
            owner TEXT NOT NULL REFERENCES users(username),
            status TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS requests (
            position INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            category TEXT NOT NULL,
            quantity INTEGER NOT NULL,
            from_date TEXT NOT NULL,
            to_date TEXT NOT NULL,
            owner TEXT NOT NULL REFERENCES users(username)
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY,
            listing_key INTEGER NOT NULL,
            listing_name TEXT NOT NULL,
            price INTEGER NOT NULL,
            requester TEXT NOT NULL REFERENCES users(username),
            owner TEXT NOT NULL REFERENCES users(username),
            state TEXT NOT NULL,
            created_at DATETIME NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if err := setMeta(tx, "schema_version", strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

func setMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`INSERT INTO meta(key,value) VALUES(?,?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	return err
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

// metaInt reads an integer meta value; a missing key reads as 0.
func metaInt(q queryRower, key string) (int64, error) {
	var value string
	err := q.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

// SessionSecret returns the key used to sign login tokens for this
// database, generating and storing a random one on first use.
func (d *Database) SessionSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO meta(key,value) VALUES('session_secret',?)`, hex.EncodeToString(buf)); err != nil {
		return "", fmt.Errorf("store session secret: %w", err)
	}
	var secret string
	if err := d.db.QueryRow(`SELECT value FROM meta WHERE key='session_secret'`).Scan(&secret); err != nil {
		return "", fmt.Errorf("read session secret: %w", err)
	}
	return secret, nil
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.insertUserStmt, err = d.db.Prepare(`INSERT INTO users(username,password_hash,coins,position) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.insertListingStmt, err = d.db.Prepare(`INSERT INTO listings(position,listing_key,name,category,condition,price,quantity,from_date,to_date,owner,status) VALUES(?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.insertRequestStmt, err = d.db.Prepare(`INSERT INTO requests(position,name,category,quantity,from_date,to_date,owner) VALUES(?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.insertNotificationStmt, err = d.db.Prepare(`INSERT INTO notifications(id,listing_key,listing_name,price,requester,owner,state,created_at) VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveState replaces the stored state with data in one transaction.
// Positions are written explicitly so ids survive a reload. It fails with
// ErrConflict when another session has saved since the last LoadState or
// SaveState on d.
func (d *Database) SaveState(data *RegistryData) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := metaInt(tx, "revision")
	if err != nil {
		return err
	}
	if current != d.revision {
		return fmt.Errorf("stored revision %d, loaded %d: %w", current, d.revision, ErrConflict)
	}

	for _, table := range []string{"notifications", "requests", "listings", "users"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insertUser := tx.Stmt(d.insertUserStmt)
	for i, u := range data.Users {
		if _, err := insertUser.Exec(u.Username, u.PasswordHash, u.Coins, i+1); err != nil {
			return fmt.Errorf("save user %q: %w", u.Username, err)
		}
	}

	insertListing := tx.Stmt(d.insertListingStmt)
	for i, l := range data.Listings {
		if _, err := insertListing.Exec(i+1, l.Key, l.Name, l.Category, l.Condition, l.Price, l.Quantity, l.FromDate, l.ToDate, l.Owner, l.Status); err != nil {
			return fmt.Errorf("save listing %d: %w", i+1, err)
		}
	}

	insertRequest := tx.Stmt(d.insertRequestStmt)
	for i, q := range data.Requests {
		if _, err := insertRequest.Exec(i+1, q.Name, q.Category, q.Quantity, q.FromDate, q.ToDate, q.Owner); err != nil {
			return fmt.Errorf("save request %d: %w", i+1, err)
		}
	}

	insertNotification := tx.Stmt(d.insertNotificationStmt)
	for i, n := range data.Notifications {
		if _, err := insertNotification.Exec(i+1, n.ListingKey, n.ListingName, n.Price, n.Requester, n.Owner, string(n.State), n.CreatedAt); err != nil {
			return fmt.Errorf("save notification %d: %w", i+1, err)
		}
	}

	if err := setMeta(tx, "next_listing_key", strconv.FormatInt(data.NextListingKey, 10)); err != nil {
		return err
	}
	if err := setMeta(tx, "revision", strconv.FormatInt(current+1, 10)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.revision = current + 1
	return nil
}

// LoadState reads the stored state in one transaction and remembers its
// revision for the next SaveState. An empty database yields empty data.
func (d *Database) LoadState() (*RegistryData, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	revision, err := metaInt(tx, "revision")
	if err != nil {
		return nil, err
	}
	data := &RegistryData{}
	if data.NextListingKey, err = metaInt(tx, "next_listing_key"); err != nil {
		return nil, err
	}

	if data.Users, err = loadUsers(tx); err != nil {
		return nil, err
	}
	if data.Listings, err = loadListings(tx); err != nil {
		return nil, err
	}
	if data.Requests, err = loadRequests(tx); err != nil {
		return nil, err
	}
	if data.Notifications, err = loadNotifications(tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	d.revision = revision
	return data, nil
}

func loadUsers(tx *sql.Tx) ([]*User, error) {
	rows, err := tx.Query(`SELECT username,password_hash,coins FROM users ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Coins); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func loadListings(tx *sql.Tx) ([]*Listing, error) {
	rows, err := tx.Query(`SELECT listing_key,name,category,condition,price,quantity,from_date,to_date,owner,status FROM listings ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.Key, &l.Name, &l.Category, &l.Condition, &l.Price, &l.Quantity, &l.FromDate, &l.ToDate, &l.Owner, &l.Status); err != nil {
			return nil, err
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}

func loadRequests(tx *sql.Tx) ([]*Request, error) {
	rows, err := tx.Query(`SELECT name,category,quantity,from_date,to_date,owner FROM requests ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		var q Request
		if err := rows.Scan(&q.Name, &q.Category, &q.Quantity, &q.FromDate, &q.ToDate, &q.Owner); err != nil {
			return nil, err
		}
		requests = append(requests, &q)
	}
	return requests, rows.Err()
}

func loadNotifications(tx *sql.Tx) ([]*Notification, error) {
	rows, err := tx.Query(`SELECT id,listing_key,listing_name,price,requester,owner,state,created_at FROM notifications ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var (
			n     Notification
			state string
		)
		if err := rows.Scan(&n.ID, &n.ListingKey, &n.ListingName, &n.Price, &n.Requester, &n.Owner, &state, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.State = NotificationState(state)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
