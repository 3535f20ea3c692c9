package source

import (
	"encoding/json"
	"fmt"
)

// listing mirrors the subset of the content API's listing document that is used.
type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Score     int    `json:"score"`
	Over18    bool   `json:"over_18"`
	Subreddit string `json:"subreddit"`
}

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
