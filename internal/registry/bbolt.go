package registry

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	bbolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"mcpdock-go/internal/state"
)

// BoltDB wraps bolt database operations. Every exported method is a single
// transaction, so callers get atomicity per call; cross-call consistency is
// the Registry's job.
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the database under dataDir
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, "mcpdock.db")

	// Try to open with timeout, if it fails, attempt recovery
	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		if err == bbolterrors.ErrTimeout {
			logger.Info("Database timeout detected, attempting recovery...")

			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infof("Creating backup at %s", backupPath)
			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnf("Failed to create backup: %v", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnf("Failed to remove locked database file: %v", rmErr)
			}

			db, err = bbolt.Open(dbPath, 0644, &bbolt.Options{
				Timeout: 5 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// OpenBoltDB opens the database without the lock recovery path. Short-lived
// commands use it: a lock held by a running daemon means the caller should
// back off, not "recover" the file out from under a live process.
func OpenBoltDB(dataDir string, timeout time.Duration, logger *zap.SugaredLogger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, "mcpdock.db")

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		if err == bbolterrors.ErrTimeout {
			return nil, fmt.Errorf("database %s is locked (is the daemon running?)", dbPath)
		}
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Ping verifies the database can still open a read transaction
func (b *BoltDB) Ping() error {
	return b.db.View(func(_ *bbolt.Tx) error {
		return nil
	})
}

// initBuckets creates required buckets and sets the schema version
func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buckets := []string{
			ServersBucket,
			ToolsBucket,
			MetaBucket,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		metaBucket := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return metaBucket.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// Server operations

// SaveServer saves a server record
func (b *BoltDB) SaveServer(record *ServerRecord) error {
	record.Updated = time.Now()

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetServer retrieves a server record by id
func (b *BoltDB) GetServer(id string) (*ServerRecord, error) {
	var record *ServerRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return NewServerNotFound(id)
		}

		record = &ServerRecord{}
		return record.UnmarshalBinary(data)
	})

	return record, err
}

// ListServers returns all server records sorted by name
func (b *BoltDB) ListServers() ([]*ServerRecord, error) {
	var records []*ServerRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		return bucket.ForEach(func(_, v []byte) error {
			record := &ServerRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// UpdateServerState transitions a server to newState inside one transaction,
// enforcing the state machine's edge set. A failure cause may be recorded
// alongside the transition; entering Connected clears it.
func (b *BoltDB) UpdateServerState(id string, newState state.ConnectionState, cause string) (state.ConnectionState, error) {
	var oldState state.ConnectionState

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return NewServerNotFound(id)
		}

		record := &ServerRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}

		oldState = record.State
		if err := state.ValidateTransition(record.State, newState); err != nil {
			return err
		}

		record.State = newState
		record.StateChanged = time.Now()
		record.Updated = record.StateChanged
		record.LastError = cause
		if newState == state.StateConnected {
			record.LastError = ""
		}

		newData, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), newData)
	})

	return oldState, err
}

// DeleteServerCascade removes a server and every tool it owns in one
// transaction, returning the removed tool ids. Referential integrity: no
// interleaving can observe the server gone while its tools remain.
func (b *BoltDB) DeleteServerCascade(id string) ([]string, error) {
	var removed []string

	err := b.db.Update(func(tx *bbolt.Tx) error {
		servers := tx.Bucket([]byte(ServersBucket))
		if servers.Get([]byte(id)) == nil {
			return NewServerNotFound(id)
		}
		if err := servers.Delete([]byte(id)); err != nil {
			return err
		}

		tools := tx.Bucket([]byte(ToolsBucket))
		c := tools.Cursor()
		prefix := toolKeyPrefix(id)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			record := &ToolRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			removed = append(removed, record.ID)
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})

	return removed, err
}

// Tool operations

// ListServerTools returns the cached tools of one server sorted by name
func (b *BoltDB) ListServerTools(serverID string) ([]*ToolRecord, error) {
	var records []*ToolRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(ServersBucket)).Get([]byte(serverID)) == nil {
			return NewServerNotFound(serverID)
		}

		c := tx.Bucket([]byte(ToolsBucket)).Cursor()
		prefix := toolKeyPrefix(serverID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			record := &ToolRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// CountServerTools returns the number of cached tools for a server
func (b *BoltDB) CountServerTools(serverID string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ToolsBucket)).Cursor()
		prefix := toolKeyPrefix(serverID)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// reconcileTools merges a discovery result into the tool cache inside tx.
// Remote-only tools are inserted enabled, local-only tools are removed, and
// tools present on both sides are updated in place keeping their current
// enabled flag.
func reconcileTools(tx *bbolt.Tx, serverID string, updates []ToolUpdate, now time.Time) (*ReconcileSummary, error) {
	bucket := tx.Bucket([]byte(ToolsBucket))
	summary := &ReconcileSummary{}

	remote := make(map[string]ToolUpdate, len(updates))
	for _, u := range updates {
		remote[u.Name] = u
	}

	// Walk the local set first: update survivors, remove the rest.
	c := bucket.Cursor()
	prefix := toolKeyPrefix(serverID)
	seen := make(map[string]bool, len(updates))
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		record := &ToolRecord{}
		if err := record.UnmarshalBinary(v); err != nil {
			return nil, err
		}

		update, stillRemote := remote[record.Name]
		if !stillRemote {
			summary.RemovedIDs = append(summary.RemovedIDs, record.ID)
			if err := c.Delete(); err != nil {
				return nil, err
			}
			continue
		}

		seen[record.Name] = true
		record.Description = update.Description
		record.ParamsJSON = update.ParamsJSON
		record.Updated = now
		data, err := record.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := bucket.Put(k, data); err != nil {
			return nil, err
		}
		summary.Updated = append(summary.Updated, record)
	}

	// Insert what the remote reported and the cache lacked, enabled by default.
	for _, u := range updates {
		if seen[u.Name] {
			continue
		}
		record := &ToolRecord{
			ID:          ToolID(serverID, u.Name),
			ServerID:    serverID,
			Name:        u.Name,
			Description: u.Description,
			ParamsJSON:  u.ParamsJSON,
			Enabled:     true,
			Updated:     now,
		}
		data, err := record.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := bucket.Put(toolKey(serverID, u.Name), data); err != nil {
			return nil, err
		}
		summary.Inserted = append(summary.Inserted, record)
	}

	return summary, nil
}

// CommitDiscovery applies a successful discovery in one transaction:
// reconciles the tool cache, records the transport that answered, and
// transitions the server FetchingTools -> Connected. Any state other than
// FetchingTools at commit time fails the transition check and nothing is
// written.
func (b *BoltDB) CommitDiscovery(serverID, transport string, updates []ToolUpdate) (*ReconcileSummary, error) {
	var summary *ReconcileSummary

	err := b.db.Update(func(tx *bbolt.Tx) error {
		servers := tx.Bucket([]byte(ServersBucket))
		data := servers.Get([]byte(serverID))
		if data == nil {
			return NewServerNotFound(serverID)
		}

		record := &ServerRecord{}
		if err := record.UnmarshalBinary(data); err != nil {
			return err
		}
		if err := state.ValidateTransition(record.State, state.StateConnected); err != nil {
			return err
		}

		now := time.Now()
		var err error
		summary, err = reconcileTools(tx, serverID, updates, now)
		if err != nil {
			return err
		}

		record.State = state.StateConnected
		record.StateChanged = now
		record.Updated = now
		record.LastError = ""
		if transport != "" {
			record.Transport = transport
		}

		newData, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return servers.Put([]byte(serverID), newData)
	})

	if err != nil {
		return nil, err
	}
	return summary, nil
}

// SetToolsEnabled flips the enabled flag on the given tools. All-or-nothing:
// if any id is unknown the transaction rolls back and the returned
// NotFoundError names every missing id.
func (b *BoltDB) SetToolsEnabled(toolIDs []string, enabled bool) ([]*ToolRecord, error) {
	var changed []*ToolRecord

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolsBucket))

		var missing []string
		records := make([]*ToolRecord, 0, len(toolIDs))
		keys := make([][]byte, 0, len(toolIDs))
		for _, toolID := range toolIDs {
			serverID, name, ok := SplitToolID(toolID)
			if !ok {
				missing = append(missing, toolID)
				continue
			}
			key := toolKey(serverID, name)
			data := bucket.Get(key)
			if data == nil {
				missing = append(missing, toolID)
				continue
			}
			record := &ToolRecord{}
			if err := record.UnmarshalBinary(data); err != nil {
				return err
			}
			records = append(records, record)
			keys = append(keys, key)
		}
		if len(missing) > 0 {
			return &NotFoundError{Kind: "tool", IDs: missing}
		}

		now := time.Now()
		for i, record := range records {
			record.Enabled = enabled
			record.Updated = now
			data, err := record.MarshalBinary()
			if err != nil {
				return err
			}
			if err := bucket.Put(keys[i], data); err != nil {
				return err
			}
		}
		changed = records
		return nil
	})

	if err != nil {
		return nil, err
	}
	return changed, nil
}

// DisableAllTools disables every cached tool of a server in one transaction,
// returning the affected ids.
func (b *BoltDB) DisableAllTools(serverID string) ([]string, error) {
	var affected []string

	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(ServersBucket)).Get([]byte(serverID)) == nil {
			return NewServerNotFound(serverID)
		}

		bucket := tx.Bucket([]byte(ToolsBucket))
		c := bucket.Cursor()
		prefix := toolKeyPrefix(serverID)
		now := time.Now()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			record := &ToolRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			if record.Enabled {
				record.Enabled = false
				record.Updated = now
				data, err := record.MarshalBinary()
				if err != nil {
					return err
				}
				if err := bucket.Put(k, data); err != nil {
					return err
				}
			}
			affected = append(affected, record.ID)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return affected, nil
}

// NormalizeTransientStates rewrites states that cannot validly survive a
// restart: a server stuck in FetchingTools by a crash becomes Disconnected.
// AwaitingAuth is kept, pending auth is caller-driven and has no expiry.
func (b *BoltDB) NormalizeTransientStates() (int, error) {
	normalized := 0

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := &ServerRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			if record.State != state.StateFetchingTools {
				continue
			}

			record.State = state.StateDisconnected
			record.StateChanged = time.Now()
			record.Updated = record.StateChanged
			record.LastError = "discovery interrupted by restart"
			data, err := record.MarshalBinary()
			if err != nil {
				return err
			}
			if err := bucket.Put(k, data); err != nil {
				return err
			}
			normalized++
		}
		return nil
	})

	return normalized, err
}

// EnsureFlowSecret returns the per-install secret used to sign auth
// continuation tokens, generating and persisting it on first use.
func (b *BoltDB) EnsureFlowSecret() ([]byte, error) {
	var secret []byte

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if existing := bucket.Get([]byte(FlowSecretKey)); existing != nil {
			secret = append([]byte(nil), existing...)
			return nil
		}

		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate flow secret: %w", err)
		}
		return bucket.Put([]byte(FlowSecretKey), secret)
	})

	if err != nil {
		return nil, err
	}
	return secret, nil
}

// copyFile copies a file for backup purposes
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
