package paperless

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
)

// User is the Paperless user record.
type User = documents.User

// ListUsers returns every user visible to the token.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	return listAll[User](ctx, c, "/api/users/?"+query("page_size", itoa(c.pageSize)))
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id int) (User, error) {
	var user User
	if err := c.http.Get(ctx, "/api/users/"+itoa(id)+"/", &user); err != nil {
		if errors.IsNotFound(err) {
			return User{}, errors.NewNotFoundError("user", itoa(id))
		}
		return User{}, err
	}
	return user, nil
}

// LoadUsers fills the username cache from the user list. It returns the
// number of users loaded.
func (c *Client) LoadUsers(ctx context.Context) (int, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		c.users.Set(itoa(u.ID), u.Username, gocache.DefaultExpiration)
	}
	c.logger.Debug().Int("users", len(users)).Msg("Loaded users")
	return len(users), nil
}

// Username resolves a user id, using the cache when fresh. Concurrent
// misses for the same id share one request.
func (c *Client) Username(ctx context.Context, id int) (string, error) {
	key := itoa(id)
	if v, ok := c.users.Get(key); ok {
		return v.(string), nil
	}

	// The shared request outlives any one caller's cancellation; each
	// caller still stops waiting when its own context ends.
	ch := c.flights.DoChan("user\x00"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		user, err := c.GetUser(fctx, id)
		if err != nil {
			return "", err
		}
		c.users.Set(key, user.Username, gocache.DefaultExpiration)
		return user.Username, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errors.WrapContext("resolve user "+key, ctx.Err())
	}
}
