// Package config centralizes the journal's configuration.
//
// Values load from environment variables with documented defaults, following
// the teacher's three-tier precedence (explicit caller override, then
// environment, then default) but collapsed to two tiers here since the
// journal has no database-backed config entities of its own.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every configuration value spec.md §6 enumerates, plus the
// connection parameters needed to dial a real Cassandra cluster — the
// concrete shape of the "assumed Session" the spec treats as external.
type Config struct {
	// Connection
	// ==========

	// Hosts is the list of Cassandra contact points.
	// Environment: JOURNAL_HOSTS (comma-separated)
	// Default: ["127.0.0.1"]
	Hosts []string

	// Port is the native protocol port.
	// Environment: JOURNAL_PORT
	// Default: 9042
	Port int

	// Keyspace is the keyspace holding the messages/metadata/tag tables.
	// Environment: JOURNAL_KEYSPACE
	// Default: "journal"
	Keyspace string

	// LocalDC is the local datacenter name, used for LOCAL_QUORUM/LOCAL_SERIAL.
	// Environment: JOURNAL_LOCAL_DC
	LocalDC string

	// NumConns is the number of connections per host.
	// Environment: JOURNAL_NUM_CONNS
	// Default: 2
	NumConns int

	// ConnectTimeout bounds cluster connection setup.
	// Environment: JOURNAL_CONNECT_TIMEOUT (seconds)
	// Default: 10s
	ConnectTimeout time.Duration

	// Journal behavior (spec.md §6)
	// ==============================

	// TargetPartitionSize is the partition width in events (I3).
	// Environment: JOURNAL_TARGET_PARTITION_SIZE
	// Default: 500
	// Changing this on an existing dataset is unsupported (spec.md §6).
	TargetPartitionSize int64

	// MaxMessageBatchSize bounds unlogged-batch size for writes and the
	// chunk size for compatibility-mode physical deletes.
	// Environment: JOURNAL_MAX_MESSAGE_BATCH_SIZE
	// Default: 100
	MaxMessageBatchSize int

	// MaxConcurrentDeletes bounds the per-PID pending-delete queue.
	// Environment: JOURNAL_MAX_CONCURRENT_DELETES
	// Default: 10
	MaxConcurrentDeletes int

	// SupportDeletes gates DeleteTo; false makes it fail fast (§7.1).
	// Environment: JOURNAL_SUPPORT_DELETES
	// Default: true
	SupportDeletes bool

	// Cassandra2xCompat selects the delete mode: per-row deletes when true
	// (older schema, no static max-seq marker column to range-delete off
	// of), range deletes when false (default, §4.5 step 4).
	// Environment: JOURNAL_CASSANDRA_2X_COMPAT
	// Default: false
	Cassandra2xCompat bool

	// EventsByTagEnabled gates the tag-write dispatch (C6) and the
	// pre-snapshot tag-write path (§4.6).
	// Environment: JOURNAL_EVENTS_BY_TAG_ENABLED
	// Default: true
	EventsByTagEnabled bool

	// WriteProfile and ReadProfile name execution profiles the caller owns;
	// the journal only sets them on statements, never mutates them (§5).
	// Environment: JOURNAL_WRITE_PROFILE / JOURNAL_READ_PROFILE
	WriteProfile string
	ReadProfile  string

	// CoordinatedShutdownOnError enables the §4.9 fatal-error shutdown hook.
	// Environment: JOURNAL_COORDINATED_SHUTDOWN_ON_ERROR
	// Default: true
	CoordinatedShutdownOnError bool

	// WriterUUID identifies this process incarnation as a writer (I6). The
	// journal itself does not read it and does not mint one when it is
	// empty: each stored row takes its writer_uuid from Event.WriterUUID.
	// Environment: JOURNAL_WRITER_UUID
	WriterUUID string

	// PreSnapshotScanFrom bounds how far back the pre-snapshot tag-write
	// scan (§4.6) starts looking for un-reflected events.
	// Environment: JOURNAL_PRE_SNAPSHOT_SCAN_FROM
	// Default: 1
	PreSnapshotScanFrom int64
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Hosts:                      []string{"127.0.0.1"},
		Port:                       9042,
		Keyspace:                   "journal",
		NumConns:                   2,
		ConnectTimeout:             10 * time.Second,
		TargetPartitionSize:        500,
		MaxMessageBatchSize:        100,
		MaxConcurrentDeletes:       10,
		SupportDeletes:             true,
		Cassandra2xCompat:          false,
		EventsByTagEnabled:         true,
		WriteProfile:               "journal-write",
		ReadProfile:                "journal-read",
		CoordinatedShutdownOnError: true,
		PreSnapshotScanFrom:        1,
	}
}

// FromEnvironment overlays environment variables onto a copy of Default().
func FromEnvironment() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("JOURNAL_HOSTS"); v != "" {
		cfg.Hosts = splitAndTrim(v)
	}
	if v := os.Getenv("JOURNAL_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := os.Getenv("JOURNAL_KEYSPACE"); v != "" {
		cfg.Keyspace = v
	}
	if v := os.Getenv("JOURNAL_LOCAL_DC"); v != "" {
		cfg.LocalDC = v
	}
	if v := os.Getenv("JOURNAL_NUM_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_NUM_CONNS: %w", err)
		}
		cfg.NumConns = n
	}
	if v := os.Getenv("JOURNAL_CONNECT_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("JOURNAL_TARGET_PARTITION_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_TARGET_PARTITION_SIZE: %w", err)
		}
		cfg.TargetPartitionSize = n
	}
	if v := os.Getenv("JOURNAL_MAX_MESSAGE_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_MAX_MESSAGE_BATCH_SIZE: %w", err)
		}
		cfg.MaxMessageBatchSize = n
	}
	if v := os.Getenv("JOURNAL_MAX_CONCURRENT_DELETES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_MAX_CONCURRENT_DELETES: %w", err)
		}
		cfg.MaxConcurrentDeletes = n
	}
	if v := os.Getenv("JOURNAL_SUPPORT_DELETES"); v != "" {
		cfg.SupportDeletes = parseBool(v, cfg.SupportDeletes)
	}
	if v := os.Getenv("JOURNAL_CASSANDRA_2X_COMPAT"); v != "" {
		cfg.Cassandra2xCompat = parseBool(v, cfg.Cassandra2xCompat)
	}
	if v := os.Getenv("JOURNAL_EVENTS_BY_TAG_ENABLED"); v != "" {
		cfg.EventsByTagEnabled = parseBool(v, cfg.EventsByTagEnabled)
	}
	if v := os.Getenv("JOURNAL_WRITE_PROFILE"); v != "" {
		cfg.WriteProfile = v
	}
	if v := os.Getenv("JOURNAL_READ_PROFILE"); v != "" {
		cfg.ReadProfile = v
	}
	if v := os.Getenv("JOURNAL_COORDINATED_SHUTDOWN_ON_ERROR"); v != "" {
		cfg.CoordinatedShutdownOnError = parseBool(v, cfg.CoordinatedShutdownOnError)
	}
	if v := os.Getenv("JOURNAL_WRITER_UUID"); v != "" {
		cfg.WriterUUID = v
	}
	if v := os.Getenv("JOURNAL_PRE_SNAPSHOT_SCAN_FROM"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("JOURNAL_PRE_SNAPSHOT_SCAN_FROM: %w", err)
		}
		cfg.PreSnapshotScanFrom = n
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that would violate the journal's invariants.
func (c *Config) Validate() error {
	if c.TargetPartitionSize <= 0 {
		return fmt.Errorf("target_partition_size must be positive, got %d", c.TargetPartitionSize)
	}
	if c.MaxMessageBatchSize <= 0 {
		return fmt.Errorf("max_message_batch_size must be positive, got %d", c.MaxMessageBatchSize)
	}
	if c.MaxConcurrentDeletes <= 0 {
		return fmt.Errorf("max_concurrent_deletes must be positive, got %d", c.MaxConcurrentDeletes)
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	return nil
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
