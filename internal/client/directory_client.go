package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parishledger/be-money-requests/internal/apperr"
)

// DirectoryClient resolves user roles from the member-directory service.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a client for the directory service.
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type userRoleResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GetUserRole returns the user's role, or "" when the directory knows the
// user but assigns no role.
func (c *DirectoryClient) GetUserRole(ctx context.Context, userID string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/users/role?id=%s", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "directory request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.NotFound("user", userID)
	case resp.StatusCode != http.StatusOK:
		return "", apperr.Newf(apperr.CodeInternal,
			"directory returned status %d for user %s", resp.StatusCode, userID)
	}

	var body userRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to decode directory response")
	}
	return body.Role, nil
}
