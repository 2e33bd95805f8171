package qcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

/*
AuditRecord is one control event. Only the fields relevant to the action
are set; the rest are omitted from the encoded record.
*/
type AuditRecord struct {
	ID       string           `json:"id"`
	Time     time.Time        `json:"time"`
	Action   string           `json:"action"`
	ModuleID int              `json:"module"`
	Qubits   []int            `json:"qubits,omitempty"`
	Peers    []QubitAddress   `json:"peers,omitempty"`
	Gate     string           `json:"gate,omitempty"`
	Shots    int              `json:"shots,omitempty"`
	Results  map[string]Tally `json:"results,omitempty"`
	Logical  Tally            `json:"logical,omitempty"`
	Failed   []int            `json:"failed,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func newRecord(action string, moduleID int, qubits ...int) AuditRecord {
	return AuditRecord{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Action:   action,
		ModuleID: moduleID,
		Qubits:   qubits,
	}
}

/*
AuditLog is an append-only sink for control events. Implementations must
serialize appends so concurrent records are never interleaved.
*/
type AuditLog interface {
	Append(ctx context.Context, record AuditRecord) error
}

// NopAuditLog discards every record.
type NopAuditLog struct{}

func (NopAuditLog) Append(context.Context, AuditRecord) error { return nil }

/*
JSONLAuditLog appends records to a file as JSON Lines, one record per line.
*/
type JSONLAuditLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func OpenJSONLAuditLog(path string) (*JSONLAuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &JSONLAuditLog{file: f, enc: json.NewEncoder(f)}, nil
}

func (l *JSONLAuditLog) Append(_ context.Context, record AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log closed")
	}

	// Encode writes the record and its trailing newline in one Write call.
	if err := l.enc.Encode(record); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (l *JSONLAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

/*
OpenAuditLog builds the sink named by cfg.Driver. The returned close
function is always safe to call.
*/
func OpenAuditLog(cfg AuditConfig) (AuditLog, func() error, error) {
	switch cfg.Driver {
	case "", "none":
		return NopAuditLog{}, func() error { return nil }, nil
	case "jsonl":
		l, err := OpenJSONLAuditLog(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "sqlite":
		l, err := OpenSQLiteAuditLog(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
