package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/grumpy-ui/listado/internal/model"
)

// ListStore persists shopping lists as whole documents: the items
// column holds the entire array as JSON and is only ever replaced in
// full. Two concurrent replacements race and the later write wins;
// there is no version check.
type ListStore struct {
	db *sql.DB
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db}
}

const listCols = `id, name, owner_id, owner_name, items, created_at, updated_at`

func scanList(scanner interface{ Scan(...any) error }) (*model.List, error) {
	var l model.List
	var ownerID, ownerName sql.NullString
	var items string

	err := scanner.Scan(&l.ID, &l.Name, &ownerID, &ownerName, &items, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		l.OwnerID = &ownerID.String
	}
	if ownerName.Valid {
		l.OwnerName = &ownerName.String
	}
	if err := json.Unmarshal([]byte(items), &l.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if l.Items == nil {
		l.Items = []model.Item{}
	}
	return &l, nil
}

// Create inserts a new list with an empty item array and returns it.
// Owner and name are optional; an owner name without an owner id is
// simply omitted rather than rejected.
func (s *ListStore) Create(ownerID, ownerName, name string) (*model.List, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	var oID, oName sql.NullString
	if ownerID != "" {
		oID = sql.NullString{String: ownerID, Valid: true}
		if ownerName != "" {
			oName = sql.NullString{String: ownerName, Valid: true}
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO lists (id, name, owner_id, owner_name, items, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, oID, oName, "[]", now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	return s.GetByID(id)
}

func (s *ListStore) GetByID(id string) (*model.List, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE id = ?`, id)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// ReplaceItems overwrites the entire item array and bumps updated_at.
// Last writer wins; a concurrent replacement is silently superseded.
// Returns the stored list, or nil if the id does not exist.
func (s *ListStore) ReplaceItems(id string, items []model.Item) (*model.List, error) {
	if items == nil {
		items = []model.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	result, err := s.db.Exec(
		`UPDATE lists SET items = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// SetOwner claims a list for a user, e.g. when a signed-in user keeps
// a list they started anonymously.
func (s *ListStore) SetOwner(id, ownerID, ownerName string) (*model.List, error) {
	_, err := s.db.Exec(
		`UPDATE lists SET owner_id = ?, owner_name = ?, updated_at = ? WHERE id = ?`,
		ownerID, ownerName, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set owner: %w", err)
	}
	return s.GetByID(id)
}

func (s *ListStore) Rename(id, name string) (*model.List, error) {
	_, err := s.db.Exec(
		`UPDATE lists SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename list: %w", err)
	}
	return s.GetByID(id)
}

// ListByOwner returns all lists owned by a user, newest first. The
// sort happens here rather than in SQL so the query needs no composite
// index.
func (s *ListStore) ListByOwner(ownerID string) ([]model.List, error) {
	if ownerID == "" {
		return []model.List{}, nil
	}

	rows, err := s.db.Query(`SELECT `+listCols+` FROM lists WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()

	var lists []model.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(lists, func(i, j int) bool {
		return lists[i].CreatedAt.After(lists[j].CreatedAt)
	})
	if lists == nil {
		lists = []model.List{}
	}
	return lists, nil
}

func (s *ListStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}
