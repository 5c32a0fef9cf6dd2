package reddit

import (
	"encoding/json"
	"time"

	"github.com/okian/xferkarma/internal/domain/model"
)

const siteURL = "https://www.reddit.com"

// listing is reddit's paginated envelope.
type listing[T any] struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string `json:"kind"`
			Data T      `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type commentData struct {
	Name            string  `json:"name"`
	Author          string  `json:"author"`
	Body            string  `json:"body"`
	Permalink       string  `json:"permalink"`
	Subreddit       string  `json:"subreddit"`
	AuthorFlairText *string `json:"author_flair_text"`
	CreatedUTC      float64 `json:"created_utc"`
}

func (c commentData) event() model.Event {
	ev := model.Event{
		ID:        c.Name,
		Author:    c.Author,
		Body:      c.Body,
		Permalink: siteURL + c.Permalink,
		Subreddit: c.Subreddit,
		CreatedAt: time.Unix(int64(c.CreatedUTC), 0).UTC(),
	}
	if c.AuthorFlairText != nil {
		ev.AuthorFlair = *c.AuthorFlairText
		ev.HasAuthorFlair = true
	}
	return ev
}

type submissionData struct {
	Name            string  `json:"name"`
	Subreddit       string  `json:"subreddit"`
	AuthorFlairText *string `json:"author_flair_text"`
}

type userAbout struct {
	Data struct {
		Name        string `json:"name"`
		IsSuspended bool   `json:"is_suspended"`
	} `json:"data"`
}

type flairList struct {
	Users []struct {
		User      string  `json:"user"`
		FlairText *string `json:"flair_text"`
	} `json:"users"`
}

type userList struct {
	Data struct {
		Children []struct {
			Name string `json:"name"`
		} `json:"children"`
	} `json:"data"`
}

type wikiPage struct {
	Data struct {
		ContentMD string `json:"content_md"`
	} `json:"data"`
}

// apiResponse is the api_type=json envelope of write endpoints.
type apiResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []struct {
				Data struct {
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func (r apiResponse) err() error {
	if len(r.JSON.Errors) == 0 {
		return nil
	}
	b, _ := json.Marshal(r.JSON.Errors)
	return &apiError{detail: string(b)}
}

type apiError struct{ detail string }

func (e *apiError) Error() string { return ErrAPI.Error() + ": " + e.detail }
func (e *apiError) Unwrap() error { return ErrAPI }
