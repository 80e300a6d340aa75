package paperless

import (
	"context"
	"strings"

	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
)

// idBatch caps the ids sent in one id__in query.
const idBatch = 100

// matchNone is Paperless' "no automatic matching" algorithm.
const matchNone = 0

// FindTags returns tags whose name equals name case-insensitively.
func (c *Client) FindTags(ctx context.Context, name string) ([]documents.Tag, error) {
	return listAll[documents.Tag](ctx, c, "/api/tags/?"+query(
		"name__iexact", name,
		"page_size", itoa(c.pageSize),
	))
}

// GetTags returns the tags with the given ids. Unknown ids are omitted.
func (c *Client) GetTags(ctx context.Context, ids []int) ([]documents.Tag, error) {
	var out []documents.Tag
	for start := 0; start < len(ids); start += idBatch {
		end := min(start+idBatch, len(ids))
		batch := ids[start:end]

		parts := make([]string, len(batch))
		for i, id := range batch {
			parts[i] = itoa(id)
		}
		tags, err := listAll[documents.Tag](ctx, c, "/api/tags/?"+query(
			"id__in", strings.Join(parts, ","),
			"page_size", itoa(len(batch)),
		))
		if err != nil {
			return nil, err
		}
		out = append(out, tags...)
	}
	return out, nil
}

type createTagRequest struct {
	Name              string `json:"name"`
	Color             string `json:"color,omitempty"`
	IsInboxTag        bool   `json:"is_inbox_tag"`
	MatchingAlgorithm int    `json:"matching_algorithm"`
}

// CreateTag creates a tag that the service never assigns automatically.
// A name collision is reported as *errors.AlreadyExistsError.
func (c *Client) CreateTag(ctx context.Context, name string) (documents.Tag, error) {
	req := createTagRequest{
		Name:              name,
		Color:             c.tagColor,
		MatchingAlgorithm: matchNone,
	}

	var tag documents.Tag
	if err := c.http.Post(ctx, "/api/tags/", req, &tag); err != nil {
		if isNameCollision(err) {
			return documents.Tag{}, errors.NewAlreadyExistsError("tag", name)
		}
		return documents.Tag{}, err
	}
	c.logger.Info().Int("tag_id", tag.ID).Str("tag", tag.Name).Msg("Created tag")
	return tag, nil
}

// isNameCollision recognises Paperless' uniqueness rejections: 409, or a
// 400 whose body says the name already exists.
func isNameCollision(err error) bool {
	if errors.IsAlreadyExists(err) {
		return true
	}
	var apiErr *errors.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}
