package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kalambet/interviewd/internal/config"
)

type apiClient struct {
	baseURL    string
	owner      string
	cookieName string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	c, err := newAnonymousClient()
	if err != nil {
		return nil, err
	}
	c.owner = ownerFlag
	if c.owner == "" {
		if c.owner, err = readOwner(ownerFilePath()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// newAnonymousClient builds a client that sends no owner cookie, for login.
func newAnonymousClient() (*apiClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    resolveServerURL(serverURL, cfg.Server.Addr),
		cookieName: cfg.Auth.CookieName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// resolveServerURL prefers an explicit URL, otherwise dials the configured listen
// address, substituting loopback for wildcard hosts.
func resolveServerURL(explicit, addr string) string {
	if explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func ownerFilePath() string {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return filepath.Join(filepath.Dir(path), "owner")
}

func readOwner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", errors.New("not logged in: run 'interviewd login <username>' or pass --owner")
	}
	if err != nil {
		return "", fmt.Errorf("reading owner file: %w", err)
	}
	owner := strings.TrimSpace(string(data))
	if owner == "" {
		return "", errors.New("owner file is empty: run 'interviewd login <username>'")
	}
	return owner, nil
}

func writeOwner(path, owner string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(owner+"\n"), 0o600)
}

func (c *apiClient) cookie() *http.Cookie {
	return &http.Cookie{Name: c.cookieName, Value: c.owner}
}

func (c *apiClient) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.owner != "" {
		req.AddCookie(c.cookie())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is interviewd running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.send(ctx, method, path, "", nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return c.send(ctx, method, path, "application/json", bytes.NewReader(data))
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) patch(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// upload posts data as the "file" field of a multipart form.
func (c *apiClient) upload(ctx context.Context, path, filename string, data []byte) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf)
}

// dial opens a websocket to path, authenticated with the owner cookie.
func (c *apiClient) dial(path string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + path
	wsCfg, err := websocket.NewConfig(wsURL, c.baseURL)
	if err != nil {
		return nil, err
	}
	wsCfg.Header = http.Header{"Cookie": {c.cookie().String()}}
	ws, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	return ws, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
