package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/recall/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidField is returned when an update names an unknown column
	// or carries a value of the wrong type.
	ErrInvalidField = errors.New("store: invalid field")
)

// UserFields lists the user_info columns that may be written.
var UserFields = []string{"age", "gender", "interests", "last_name", "location", "name", "occupation"}

// UserStore reads and writes user_info records.
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store using the given database.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert creates the user record if needed and writes only the given fields.
func (u *UserStore) Upsert(ctx context.Context, id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidField)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrInvalidField)
	}

	cols := make([]string, 0, len(fields))
	for k := range fields {
		if !slices.Contains(UserFields, k) {
			return fmt.Errorf("%w: %q (valid: %s)", ErrInvalidField, k, strings.Join(UserFields, ", "))
		}
		cols = append(cols, k)
	}
	slices.Sort(cols)

	args := make([]any, 0, len(cols)+2)
	args = append(args, id)
	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		v, err := userValue(col, fields[col])
		if err != nil {
			return err
		}
		args = append(args, v)
		sets = append(sets, col+" = excluded."+col)
	}
	args = append(args, time.Now().UTC().Format(time.DateTime))
	sets = append(sets, "updated_at = excluded.updated_at")

	placeholders := strings.Repeat("?, ", len(cols)+1) + "?"
	query := fmt.Sprintf(
		`INSERT INTO user_info (id, %s, updated_at) VALUES (%s)
		 ON CONFLICT(id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "),
	)
	if _, err := u.db.sql.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting user %s: %w", id, err)
	}
	return nil
}

// Get returns the user record, or ErrNotFound.
func (u *UserStore) Get(ctx context.Context, id string) (*domain.UserInfo, error) {
	var info domain.UserInfo
	var age sql.NullInt64
	var updatedAt string

	err := u.db.sql.QueryRowContext(ctx,
		`SELECT id, name, last_name, age, gender, location, occupation, interests, updated_at
		 FROM user_info WHERE id = ?`, id,
	).Scan(
		&info.ID, &info.Name, &info.LastName, &age, &info.Gender,
		&info.Location, &info.Occupation, &info.Interests, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", id, err)
	}

	if age.Valid {
		info.Age = int(age.Int64)
	}
	info.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &info, nil
}

// userValue coerces a tool-supplied value into the column's storage type.
func userValue(col string, v any) (any, error) {
	switch col {
	case "age":
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				break
			}
			return int64(n), nil
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return i, nil
			}
		}
		return nil, fmt.Errorf("%w: age must be an integer, got %v", ErrInvalidField, v)

	case "interests":
		switch x := v.(type) {
		case string:
			return x, nil
		case []string:
			return strings.Join(x, ", "), nil
		case []any:
			parts := make([]string, 0, len(x))
			for _, item := range x {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, ", "), nil
		}
		return nil, fmt.Errorf("%w: interests must be a list of strings", ErrInvalidField)

	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidField, col)
		}
		return s, nil
	}
}
