package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Reply posts text under the thing named parent and returns the new
// comment's fullname. It is never retried, so a failure may still have
// posted the comment.
func (c *Client) Reply(ctx context.Context, parent, text string) (string, error) {
	form := url.Values{"api_type": {"json"}, "thing_id": {parent}, "text": {text}}
	var resp apiResponse
	if err := c.post(once(ctx), "comment", "/api/comment", form, &resp); err != nil {
		return "", err
	}
	if err := resp.err(); err != nil {
		return "", fmt.Errorf("reply to %s: %w", parent, err)
	}
	if len(resp.JSON.Data.Things) == 0 {
		return "", fmt.Errorf("reply to %s: %w: no comment returned", parent, ErrAPI)
	}
	return resp.JSON.Data.Things[0].Data.Name, nil
}

// Distinguish marks a comment as posted by a moderator.
func (c *Client) Distinguish(ctx context.Context, id string) error {
	form := url.Values{"api_type": {"json"}, "id": {id}, "how": {"yes"}}
	return c.post(ctx, "distinguish", "/api/distinguish", form, nil)
}

// Lock prevents further replies to a comment.
func (c *Client) Lock(ctx context.Context, id string) error {
	return c.post(ctx, "lock", "/api/lock", url.Values{"id": {id}}, nil)
}

// ReplyModerated replies, then distinguishes and locks the reply. Missing
// moderator permissions on the follow-up calls are not errors.
func (c *Client) ReplyModerated(ctx context.Context, parent, text string) (string, error) {
	id, err := c.Reply(ctx, parent, text)
	if err != nil {
		return "", err
	}
	if err := c.Distinguish(ctx, id); err != nil && !errors.Is(err, ErrForbidden) {
		return id, err
	}
	if err := c.Lock(ctx, id); err != nil && !errors.Is(err, ErrForbidden) {
		return id, err
	}
	return id, nil
}
