package model

import "time"

// Item is one entry in a shopping list. Items carry no identifier of
// their own; identity within a list is positional. Concurrent edits
// from two clients can therefore mis-target an item if the array was
// reordered between read and write.
type Item struct {
	Text     string `json:"text"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Bought   bool   `json:"bought"`
}

// List is the unit of sharing and synchronization. A list with no
// owner is readable and writable by anyone holding its id; the id
// itself is the capability. Ownership is the owner_id/owner_name pair,
// set once when the list is created named or claimed.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	OwnerID   *string   `json:"owner_id,omitempty"`
	OwnerName *string   `json:"owner_name,omitempty"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the list name, falling back to a label derived
// from the id when the list was never named.
func (l *List) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	if len(l.ID) >= 8 {
		return "List " + l.ID[:8]
	}
	return "List " + l.ID
}

// BelongsTo reports whether the list is owned by the given user id.
// Anonymous lists belong to nobody.
func (l *List) BelongsTo(userID string) bool {
	return l.OwnerID != nil && userID != "" && *l.OwnerID == userID
}
