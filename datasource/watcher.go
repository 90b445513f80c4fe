package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime/debug"
	"sync/atomic"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// BinlogConfig enables schema change tracking on a MySQL source.
//
//	"binlog": {
//		"addr": "host:port",
//		"user": "xxx",
//		"password": "xxxxxx",
//		"tables": ["orders", "users"]
//	}
//
// Addr, User and Password default to the data source's own.
type BinlogConfig struct {
	Addr     string   `json:"addr" yaml:"addr"`
	User     string   `json:"user" yaml:"user"`
	Password string   `json:"password" yaml:"password"`
	Tables   []string `json:"tables" yaml:"tables"` // empty watches every table of the database
	// UseHistory resumes from the position saved in Position on the last Close.
	UseHistory bool   `json:"useHistory" yaml:"useHistory"`
	Position   string `json:"position" yaml:"position"` // default binlog_position.json
	PoolSize   int    `json:"poolSize" yaml:"poolSize"`
}

// Watcher follows the binlog of a MySQL source and drops cached schema
// entries when a watched table is altered.
type Watcher struct {
	canal.DummyEventHandler

	Canal    *canal.Canal
	Config   BinlogConfig
	database string
	schema   *Schema
	goPool   *ants.Pool
	isClosed atomic.Bool
}

func NewWatcher(config BinlogConfig, database string, schema *Schema) (*Watcher, error) {
	if config.Position == "" {
		config.Position = "binlog_position.json"
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 16
	}
	pool, err := ants.NewPool(config.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "create watcher pool")
	}
	return &Watcher{Config: config, database: database, schema: schema, goPool: pool}, nil
}

func (w *Watcher) watches(schema, table string) bool {
	if schema != w.database {
		return false
	}
	return len(w.Config.Tables) == 0 || slice.Contain(w.Config.Tables, table)
}

func (w *Watcher) OnTableChanged(_ *replication.EventHeader, schema string, table string) error {
	if !w.watches(schema, table) {
		return nil
	}
	slog.Info("table changed", "schema", schema, "table", table)
	err := w.goPool.Submit(func() {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("invalidate schema panic", "table", table, "error", err, "stack", string(debug.Stack()))
			}
		}()
		w.schema.Invalidate(table)
	})
	if err != nil {
		// pool saturated
		w.schema.Invalidate(table)
	}
	return nil
}

func (w *Watcher) String() string {
	return "SchemaWatcher"
}

func (w *Watcher) includeTables() []string {
	db := regexp.QuoteMeta(w.database)
	if len(w.Config.Tables) == 0 {
		return []string{fmt.Sprintf("^%s\\..*$", db)}
	}
	return slice.Map(w.Config.Tables, func(_ int, t string) string {
		return fmt.Sprintf("^%s\\.%s$", db, regexp.QuoteMeta(t))
	})
}

// Start connects to the binlog and follows it in the background.
func (w *Watcher) Start(ctx context.Context) error {
	cfg := canal.NewDefaultConfig()
	cfg.Addr = w.Config.Addr
	cfg.User = w.Config.User
	cfg.Password = w.Config.Password
	cfg.Charset = "utf8mb4"
	cfg.Dump.ExecutionPath = ""
	cfg.IncludeTableRegex = w.includeTables()
	cfg.Logger = slog.Default()

	slog.InfoContext(ctx, "binlog watcher config", "addr", cfg.Addr, "tables", cfg.IncludeTableRegex)
	c, err := canal.NewCanal(cfg)
	if err != nil {
		return errors.Wrap(err, "create canal")
	}
	w.Canal = c
	c.SetEventHandler(w)

	go w.run()
	return nil
}

func (w *Watcher) run() {
	if w.Config.UseHistory {
		if pos, ok := w.savedPosition(); ok {
			if err := w.Canal.RunFrom(pos); err != nil {
				slog.Error("run binlog from saved position", "position", pos, "error", err)
			}
			if w.isClosed.Load() {
				return
			}
		}
	}

	pos, err := w.Canal.GetMasterPos()
	if err != nil {
		slog.Error("get binlog master position", "error", err)
		return
	}
	if err := w.Canal.RunFrom(pos); err != nil && !w.isClosed.Load() {
		slog.Error("run binlog", "position", pos, "error", err)
	}
}

func (w *Watcher) savedPosition() (mysql.Position, bool) {
	var pos mysql.Position
	data, err := os.ReadFile(w.Config.Position)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("read binlog position", "file", w.Config.Position, "error", err)
		}
		return pos, false
	}
	if err := json.Unmarshal(data, &pos); err != nil {
		slog.Error("parse binlog position", "file", w.Config.Position, "error", err)
		return pos, false
	}
	return pos, pos.Pos > 0 && pos.Name != ""
}

// Close stops the watcher and saves the synced position.
func (w *Watcher) Close() error {
	if !w.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	defer w.goPool.Release()
	if w.Canal == nil {
		return nil
	}
	w.Canal.Close()

	data, err := json.Marshal(w.Canal.SyncedPosition())
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(w.Config.Position, data, 0o644); err != nil {
		return errors.Wrapf(err, "save binlog position %s", w.Config.Position)
	}
	return nil
}
