// Package store wraps the ClickHouse-go/v2 native client and exposes the
// four data-model tables (PeakSample, ControlRecord, AgentStatus,
// EventRecord) described in spec.md §3. Grounded on
// original_source/src/kubedoor-master/utils.py's ClickHouse access
// functions and k8s_event/clickhouse_client.py's upsert_event / query
// builders. ClickHouse itself is an out-of-pack dependency (no example repo
// in the retrieval pack talks to ClickHouse) but is required: it is the
// concrete store the original system and spec.md §3 both name, and the
// ReplacingMergeTree semantics spec.md asks for are a ClickHouse-specific
// feature with no equivalent in a pack-carried store.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type Store struct {
	conn     clickhouse.Conn
	database string
}

type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

func Open(opts Options) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		MaxOpenConns: 10, // spec.md §5's bounded store connection pool
		MaxIdleConns: 5,
		DialTimeout:  5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Store{conn: conn, database: opts.Database}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Conn() clickhouse.Conn {
	return s.conn
}

// Database returns the configured database name, used to resolve the
// __KUBEDOORDB__ token in operator-supplied SQL passthrough statements.
func (s *Store) Database() string {
	return s.database
}
