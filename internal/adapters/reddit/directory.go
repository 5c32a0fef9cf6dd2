package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// submissionPages bounds the history scan to roughly the last thousand
// submissions, the most the listing API will page through.
const submissionPages = 10

// Directory answers user questions across a source and a destination
// community, and writes flair in the destination.
type Directory struct {
	client      *Client
	source      string
	destination string
}

// NewDirectory binds c to the two communities.
func NewDirectory(c *Client, source, destination string) *Directory {
	return &Directory{client: c, source: source, destination: destination}
}

// SourceFlair returns the author flair of the user's most recent submission
// in the source community.
func (d *Directory) SourceFlair(ctx context.Context, identity string) (string, bool, error) {
	after := ""
	for page := 0; page < submissionPages; page++ {
		q := url.Values{"limit": {"100"}, "sort": {"new"}}
		if after != "" {
			q.Set("after", after)
		}
		var l listing[submissionData]
		err := d.client.get(ctx, "user_submitted", "/user/"+url.PathEscape(identity)+"/submitted", q, &l)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		for _, child := range l.Data.Children {
			if strings.EqualFold(child.Data.Subreddit, d.source) {
				if child.Data.AuthorFlairText == nil {
					return "", true, nil
				}
				return *child.Data.AuthorFlairText, true, nil
			}
		}
		if l.Data.After == "" {
			break
		}
		after = l.Data.After
	}
	return "", false, nil
}

// DestinationFlair returns the user's flair text in the destination.
func (d *Directory) DestinationFlair(ctx context.Context, identity string) (string, bool, error) {
	var fl flairList
	q := url.Values{"name": {identity}, "limit": {"1"}}
	if err := d.client.get(ctx, "flairlist", "/r/"+d.destination+"/api/flairlist", q, &fl); err != nil {
		return "", false, err
	}
	for _, u := range fl.Users {
		if strings.EqualFold(u.User, identity) && u.FlairText != nil {
			return *u.FlairText, true, nil
		}
	}
	return "", false, nil
}

// Exists reports whether the account exists and is not suspended.
func (d *Directory) Exists(ctx context.Context, identity string) (bool, error) {
	var about userAbout
	err := d.client.get(ctx, "user_about", "/user/"+url.PathEscape(identity)+"/about", nil, &about)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !about.Data.IsSuspended, nil
}

// Banned reports whether the user is banned from the destination.
func (d *Directory) Banned(ctx context.Context, identity string) (bool, error) {
	var l userList
	q := url.Values{"user": {identity}}
	if err := d.client.get(ctx, "banned", "/r/"+d.destination+"/about/banned", q, &l); err != nil {
		return false, err
	}
	for _, child := range l.Data.Children {
		if strings.EqualFold(child.Name, identity) {
			return true, nil
		}
	}
	return false, nil
}

// SetLabel assigns flair text and template in the destination.
func (d *Directory) SetLabel(ctx context.Context, identity, text, category string) error {
	form := url.Values{
		"api_type":          {"json"},
		"name":              {identity},
		"text":              {text},
		"flair_template_id": {category},
	}
	var resp apiResponse
	if err := d.client.post(ctx, "selectflair", "/r/"+d.destination+"/api/selectflair", form, &resp); err != nil {
		return err
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("selectflair %s: %w", identity, err)
	}
	return nil
}

// Moderators lists the destination's moderators.
func (d *Directory) Moderators(ctx context.Context) ([]string, error) {
	var l userList
	if err := d.client.get(ctx, "moderators", "/r/"+d.destination+"/about/moderators", nil, &l); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		names = append(names, child.Name)
	}
	return names, nil
}

// WikiPage returns the markdown source of a destination wiki page.
func (d *Directory) WikiPage(ctx context.Context, page string) (string, error) {
	var w wikiPage
	if err := d.client.get(ctx, "wiki", "/r/"+d.destination+"/wiki/"+page, nil, &w); err != nil {
		return "", err
	}
	return w.Data.ContentMD, nil
}
