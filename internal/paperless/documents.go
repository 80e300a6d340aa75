package paperless

import (
	"context"

	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

// GetDocument fetches a document and resolves its owner id to a username.
// A missing document is reported as *errors.NotFoundError.
func (c *Client) GetDocument(ctx context.Context, id int) (*documents.Document, error) {
	var doc documents.Document
	if err := c.http.Get(ctx, "/api/documents/"+itoa(id)+"/", &doc); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError("document", itoa(id))
		}
		return nil, err
	}

	if doc.OwnerID != nil {
		owner, err := c.Username(ctx, *doc.OwnerID)
		switch {
		case errors.IsNotFound(err):
			logging.FromContext(ctx).Warn().
				Int("owner_id", *doc.OwnerID).
				Msg("Document owner is not a known user, treating as unowned")
		case err != nil:
			return nil, err
		default:
			doc.Owner = owner
		}
	}
	return &doc, nil
}

// ListDocumentIDs returns the id of every document visible to the token.
func (c *Client) ListDocumentIDs(ctx context.Context) ([]int, error) {
	type docID struct {
		ID int `json:"id"`
	}
	rows, err := listAll[docID](ctx, c, "/api/documents/?"+query(
		"page_size", itoa(c.pageSize),
		"fields", "id",
		"ordering", "id",
	))
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// UpdateDocumentTags replaces a document's tag set.
func (c *Client) UpdateDocumentTags(ctx context.Context, id int, tags []int) error {
	if tags == nil {
		tags = []int{}
	}
	body := map[string][]int{"tags": tags}
	if err := c.http.Patch(ctx, "/api/documents/"+itoa(id)+"/", body, nil); err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFoundError("document", itoa(id))
		}
		return err
	}
	return nil
}
