package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ListDrives returns all drives visible to the authenticated account,
// with quota. Drive IDs are lowercased — the API returns inconsistent
// casing across endpoints.
func (c *Client) ListDrives(ctx context.Context) ([]Drive, error) {
	resp, err := c.do(ctx, http.MethodGet, "/me/drives", "", nil)
	if err != nil {
		return nil, fmt.Errorf("drive: listing drives: %w", err)
	}
	defer resp.Body.Close()

	var raw listDrivesResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding drive list: %w", err)
	}

	drives := make([]Drive, 0, len(raw.Value))
	for i := range raw.Value {
		drives = append(drives, raw.Value[i].toDrive())
	}

	return drives, nil
}

// GetDrive refreshes metadata for a single drive.
func (c *Client) GetDrive(ctx context.Context, driveID string) (*Drive, error) {
	resp, err := c.do(ctx, http.MethodGet, "/drives/"+url.PathEscape(driveID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("drive: getting drive %s: %w", driveID, err)
	}
	defer resp.Body.Close()

	var raw driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding drive %s: %w", driveID, err)
	}

	d := raw.toDrive()

	return &d, nil
}

func (r *driveResponse) toDrive() Drive {
	d := Drive{
		ID:        strings.ToLower(r.ID),
		DriveType: r.DriveType,
	}

	if r.Quota != nil {
		d.QuotaTotal = r.Quota.Total
		d.QuotaUsed = r.Quota.Used
	}

	return d
}
