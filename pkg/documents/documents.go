// Package documents holds the document-service entities ownertag reads and
// writes. The service owns their state; ownertag only proposes tag changes.
package documents

import "slices"

// Document is the subset of a service document that reconciliation consumes.
type Document struct {
	ID    int    `json:"id"`
	Title string `json:"title"`

	// OwnerID is the service user id, nil when the document has no owner.
	OwnerID *int `json:"owner"`

	// Owner is the resolved username of OwnerID; empty means no owner.
	Owner string `json:"-"`

	// Tags are the tag ids currently applied, in service order.
	Tags []int `json:"tags"`
}

// HasTag reports whether the document currently carries tag id.
func (d *Document) HasTag(id int) bool {
	return slices.Contains(d.Tags, id)
}

// Tag is a service tag.
type Tag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// User is a service user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}
