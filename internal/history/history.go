package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/port"
)

// Sources of a recorded value.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
	SourceAPI     = "api"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	// timeLayout is fixed-width so recorded_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Errors returned by the store.
var (
	ErrMissingField = errors.New("history: port and param are required")
	ErrBadValue     = errors.New("history: value does not match parameter type")
)

// Reading is one recorded parameter value.
type Reading struct {
	ID         int64     `json:"id"`
	Port       string    `json:"port"`
	Address    int       `json:"address"`
	Hostname   string    `json:"hostname,omitempty"`
	Param      string    `json:"param"`
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store persists readings in the parameter_history table.
//
// Thread Safety: safe for concurrent use; the underlying *sql.DB
// serializes writers.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store on an open database that already carries the
// parameter_history schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts r. The value type comes from the parameter table; an
// unknown parameter is stored as octet text. A zero RecordedAt means now.
func (s *Store) Record(ctx context.Context, r Reading) error {
	if r.Port == "" || r.Param == "" {
		return ErrMissingField
	}
	if r.Source == "" {
		r.Source = SourcePoll
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}

	typ := port.TypeOctet
	if p, ok := port.LookupParam(r.Param); ok {
		typ = p.Type
	}
	text, err := encodeValue(typ, r.Value)
	if err != nil {
		return fmt.Errorf("%w: %s=%v", ErrBadValue, r.Param, r.Value)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO parameter_history (port, address, hostname, param, value_type, value, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Port, r.Address, r.Hostname, r.Param, typ.String(), text, r.Source,
		r.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting parameter history: %w", err)
	}
	return nil
}

// List returns recent readings of one address, newest first. An empty
// param lists every parameter. limit defaults to 50 and is capped at 200.
func (s *Store) List(ctx context.Context, portName string, addr int, param string, limit int) ([]Reading, error) {
	if portName == "" {
		return nil, ErrMissingField
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := `SELECT id, port, address, hostname, param, value_type, value, source, recorded_at
		 FROM parameter_history
		 WHERE port = ? AND address = ?`
	args := []any{portName, addr}
	if param != "" {
		query += " AND param = ?"
		args = append(args, param)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying parameter history: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		var r Reading
		var typ, text, recordedAt string
		if err := rows.Scan(&r.ID, &r.Port, &r.Address, &r.Hostname, &r.Param, &typ, &text, &r.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning parameter history: %w", err)
		}
		if r.Value, err = decodeValue(typ, text); err != nil {
			return nil, fmt.Errorf("decoding %s value %q: %w", r.Param, text, err)
		}
		if r.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parameter history: %w", err)
	}
	return readings, nil
}

// Prune deletes readings older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx, "DELETE FROM parameter_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting parameter history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func encodeValue(typ port.ParamType, v any) (string, error) {
	switch typ {
	case port.TypeInt32:
		switch x := v.(type) {
		case int32:
			return strconv.FormatInt(int64(x), 10), nil
		case int:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return "", ErrBadValue
			}
			return strconv.Itoa(x), nil
		}
	case port.TypeFloat64:
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		case int32:
			return strconv.FormatInt(int64(x), 10), nil
		}
	case port.TypeOctet:
		if x, ok := v.(string); ok {
			return x, nil
		}
		return fmt.Sprint(v), nil
	}
	return "", ErrBadValue
}

func decodeValue(typ, text string) (any, error) {
	switch typ {
	case port.TypeInt32.String():
		n, err := strconv.ParseInt(text, 10, 32)
		return int32(n), err
	case port.TypeFloat64.String():
		return strconv.ParseFloat(text, 64)
	default:
		return text, nil
	}
}
