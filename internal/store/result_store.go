// Package store 持久化回测运行记录、成交与资金曲线，供查询与对比。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backlab/internal/backtest"
	"backlab/internal/types"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunRecord 是 backtest_runs 表的一行。
type RunRecord struct {
	ID              string             `json:"id"`
	Strategy        string             `json:"strategy"`
	Symbol          string             `json:"symbol"`
	Status          string             `json:"status"`
	Params          map[string]float64 `json:"params"`
	InitialCapital  float64            `json:"initial_capital"`
	FinalEquity     float64            `json:"final_equity"`
	TotalReturn     float64            `json:"total_return"`
	TotalCommission float64            `json:"total_commission"`
	NumTrades       int                `json:"num_trades"`
	Message         string             `json:"message"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ResultStore 管理 backtest_runs/trades/equity 三张表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			params_json TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			final_equity REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			total_commission REAL NOT NULL DEFAULT 0,
			num_trades INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price REAL NOT NULL,
			commission REAL NOT NULL,
			ts INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化 schema 失败: %w", err)
		}
	}
	return nil
}

// InsertRun 登记一次运行（通常 status=pending）。
func (s *ResultStore) InsertRun(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO backtest_runs
		(id, strategy, symbol, status, params_json, initial_capital, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Strategy, rec.Symbol, rec.Status, string(params), rec.InitialCapital, rec.Message, now, now)
	return err
}

// UpdateRunStatus 更新状态与进度消息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE backtest_runs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		status, message, time.Now().UnixMilli(), id)
	return err
}

// FinishRun 写入最终结果并落成交/资金曲线明细。
func (s *ResultStore) FinishRun(ctx context.Context, id string, result *backtest.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `UPDATE backtest_runs
		SET status = ?, final_equity = ?, total_return = ?, total_commission = ?, num_trades = ?, message = ?, updated_at = ?
		WHERE id = ?`,
		RunStatusDone, result.FinalEquity, result.TotalReturn, result.TotalCommission, result.NumTrades,
		"完成", time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	for _, f := range result.Trades {
		if _, err := tx.ExecContext(ctx, `INSERT INTO backtest_trades
			(run_id, order_id, symbol, direction, quantity, price, commission, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, f.OrderID, f.Symbol, string(f.Direction), f.Quantity, f.Price, f.Commission, f.Timestamp.UnixMilli()); err != nil {
			return err
		}
	}
	for _, p := range result.EquityCurve {
		if _, err := tx.ExecContext(ctx, `INSERT INTO backtest_equity (run_id, ts, equity) VALUES (?, ?, ?)`,
			id, p.At.UnixMilli(), p.Equity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRun 读取一条运行记录。
func (s *ResultStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT id, strategy, symbol, status, params_json,
		initial_capital, final_equity, total_return, total_commission, num_trades,
		COALESCE(message, ''), created_at, updated_at
		FROM backtest_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns 按创建时间倒序列出运行记录。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, strategy, symbol, status, params_json,
		initial_capital, final_equity, total_return, total_commission, num_trades,
		COALESCE(message, ''), created_at, updated_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Trades 读取某次运行的成交明细。
func (s *ResultStore) Trades(ctx context.Context, runID string) ([]types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT order_id, symbol, direction, quantity, price, commission, ts
		FROM backtest_trades WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Fill
	for rows.Next() {
		var f types.Fill
		var dir string
		var ts int64
		if err := rows.Scan(&f.OrderID, &f.Symbol, &dir, &f.Quantity, &f.Price, &f.Commission, &ts); err != nil {
			return nil, err
		}
		f.Direction = types.Direction(dir)
		f.Timestamp = time.UnixMilli(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var paramsJSON string
	var created, updated int64
	err := row.Scan(&rec.ID, &rec.Strategy, &rec.Symbol, &rec.Status, &paramsJSON,
		&rec.InitialCapital, &rec.FinalEquity, &rec.TotalReturn, &rec.TotalCommission,
		&rec.NumTrades, &rec.Message, &created, &updated)
	if err != nil {
		return RunRecord{}, err
	}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
			return RunRecord{}, fmt.Errorf("解析 params 失败: %w", err)
		}
	}
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}
