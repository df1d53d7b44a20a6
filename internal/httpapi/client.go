// Package httpapi is the thin REST collaborator used to pre-seed state on
// initial load. The session layer only ever reads from it; incremental
// updates arrive over the socket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hackmate/realtime/pkg/types"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// Team is the roster payload from the initial-load endpoint.
type Team struct {
	ID      string             `json:"_id"`
	Name    string             `json:"name"`
	Members []types.TeamMember `json:"teamMember"`
}

// MessagePage is one page of historical messages.
type MessagePage struct {
	Messages   []types.WireMessage `json:"messages"`
	Pagination struct {
		CurrentPage   int  `json:"currentPage"`
		TotalPages    int  `json:"totalPages"`
		TotalMessages int  `json:"totalMessages"`
		HasNextPage   bool `json:"hasNextPage"`
	} `json:"pagination"`
}

// UserTeam fetches the user's team for a hackathon.
func (c *Client) UserTeam(ctx context.Context, userID, hackathonID string) (Team, error) {
	var team Team
	path := fmt.Sprintf("/api/teams/user/%s/hackathon/%s",
		url.PathEscape(userID), url.PathEscape(hackathonID))
	if err := c.get(ctx, path, &team); err != nil {
		return Team{}, err
	}
	return team, nil
}

// TeamMessages fetches one page of a team's message history.
func (c *Client) TeamMessages(ctx context.Context, teamID string, page int) (MessagePage, error) {
	var out MessagePage
	path := fmt.Sprintf("/api/teams/%s/messages?page=%d", url.PathEscape(teamID), page)
	if err := c.get(ctx, path, &out); err != nil {
		return MessagePage{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
