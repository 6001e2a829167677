package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vovakirdan/pulsechat/internal/proto"
)

var (
	// ErrNotFound maps HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrGone maps HTTP 410, returned for expired rooms.
	ErrGone = errors.New("gone")
)

// User is the identity returned by the server.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Room is a room summary.
type Room struct {
	RoomID      string       `json:"roomId"`
	Title       string       `json:"title"`
	Tags        []string     `json:"tags"`
	Creator     proto.Sender `json:"creator"`
	MemberCount int          `json:"memberCount"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Client talks to the REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL, e.g. "http://localhost:3000".
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// CreateAnonymousUser registers a user with a generated nickname.
func (c *Client) CreateAnonymousUser(ctx context.Context, lat, lon float64) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPost, "/api/users/anonymous", map[string]float64{"latitude": lat, "longitude": lon}, &out)
	return out, err
}

// UpdateUsername renames a user.
func (c *Client) UpdateUsername(ctx context.Context, userID, username string) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPut, "/api/users/username", map[string]string{"userId": userID, "username": username}, &out)
	return out, err
}

// CreateRoom opens a new room owned by userID.
func (c *Client) CreateRoom(ctx context.Context, userID, title string, tags []string, lat, lon float64) (Room, error) {
	body := map[string]any{
		"userId":    userID,
		"title":     title,
		"tags":      tags,
		"latitude":  lat,
		"longitude": lon,
	}
	var out Room
	err := c.do(ctx, http.MethodPost, "/api/rooms", body, &out)
	return out, err
}

// ListRooms lists active rooms.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out)
	return out.Rooms, err
}

// JoinRoom records membership.
func (c *Client) JoinRoom(ctx context.Context, userID, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/join", map[string]string{"userId": userID, "roomId": roomID}, nil)
}

// History returns up to limit messages of a room in chronological order.
func (c *Client) History(ctx context.Context, roomID string, limit int) ([]proto.NewMessage, error) {
	var out struct {
		Messages []proto.NewMessage `json:"messages"`
	}
	path := "/api/messages/" + url.PathEscape(roomID) + "?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Error)
		case http.StatusGone:
			return fmt.Errorf("%w: %s", ErrGone, apiErr.Error)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
