package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"github.com/google/uuid"
)

// LogRepository persists normalized events to the "logs" table.
type LogRepository struct {
	db *sql.DB
}

// Insert writes a single event. Used by the Dual-Write Engine's relational leg.
func (r *LogRepository) Insert(ctx context.Context, e eventmodel.Event) error {
	return insertLog(ctx, r.db, e)
}

// InsertBatch writes a slice of events inside one transaction, the
// relational half of the Dual-Write Engine's write_batch operation: all
// rows commit together, or none do.
func (r *LogRepository) InsertBatch(ctx context.Context, events []eventmodel.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		if err := insertLog(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLog(ctx context.Context, ex execer, e eventmodel.Event) error {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}

	var userName, userID, userDomain sql.NullString
	if e.User != nil {
		userName = sql.NullString{String: e.User.Name, Valid: true}
		userID = sql.NullString{String: e.User.ID, Valid: true}
		userDomain = sql.NullString{String: e.User.Domain, Valid: true}
	}
	var procName, procCmd sql.NullString
	var procPID sql.NullInt32
	if e.Process != nil {
		procName = sql.NullString{String: e.Process.Name, Valid: true}
		procCmd = sql.NullString{String: e.Process.CommandLine, Valid: true}
		procPID = sql.NullInt32{Int32: int32(e.Process.PID), Valid: true}
	}
	var srcIP, dstIP sql.NullString
	var srcPort, dstPort sql.NullInt32
	if e.Network != nil {
		srcIP = sql.NullString{String: e.Network.SourceIP, Valid: true}
		dstIP = sql.NullString{String: e.Network.DestinationIP, Valid: true}
		srcPort = sql.NullInt32{Int32: int32(e.Network.SourcePort), Valid: true}
		dstPort = sql.NullInt32{Int32: int32(e.Network.DestinationPort), Valid: true}
	}
	var filePath, fileHash sql.NullString
	if e.File != nil {
		filePath = sql.NullString{String: e.File.Path, Valid: true}
		fileHash = sql.NullString{String: e.File.Hash, Valid: true}
	}
	var regKey, regValue sql.NullString
	if e.Registry != nil {
		regKey = sql.NullString{String: e.Registry.Key, Valid: true}
		regValue = sql.NullString{String: e.Registry.Value, Valid: true}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO logs (
			id, "timestamp", ingested_at, source, event_id, severity, category, message,
			host_hostname, host_ip, user_name, user_id, user_domain,
			process_name, process_pid, process_cmdline,
			net_src_ip, net_src_port, net_dst_ip, net_dst_port,
			file_path, file_hash, registry_key, registry_value,
			fields, tags, risk_score, mitre_techniques
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (id) DO NOTHING`,
		id, e.Timestamp, e.IngestedAt, string(e.Source), e.EventID, string(e.Severity), e.Category, e.Message,
		e.Host.Hostname, pqStringArray(e.Host.IP), userName, userID, userDomain,
		procName, procPID, procCmd,
		srcIP, srcPort, dstIP, dstPort,
		filePath, fileHash, regKey, regValue,
		fields, pqStringArray(e.Tags), e.RiskScore, pqStringArray(e.MitreTechniques),
	)
	if err != nil {
		return fmt.Errorf("insert log %s: %w", id, err)
	}
	return nil
}

// pqStringArray renders a Go string slice as a Postgres TEXT[] literal
// understood by pgx's driver-level array encoding via database/sql args.
// pgx/v5's stdlib adapter accepts []string directly for text[] columns, so
// this is an identity conversion kept as a named helper for call-site clarity.
func pqStringArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
