package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// listChildrenPageSize is the $top value for child listing requests.
const listChildrenPageSize = 200

const contentTypeJSON = "application/json"

// itemRef builds the URL path for an item. An empty id addresses the
// drive root.
func itemRef(driveID, id string) string {
	if id == "" {
		return "/drives/" + url.PathEscape(driveID) + "/root"
	}

	return "/drives/" + url.PathEscape(driveID) + "/items/" + url.PathEscape(id)
}

// ListChildren returns all children of a directory, following pagination.
// An empty dirID lists the drive root.
func (c *Client) ListChildren(ctx context.Context, driveID, dirID string) ([]ItemMeta, error) {
	path := itemRef(driveID, dirID) + fmt.Sprintf("/children?$top=%d", listChildrenPageSize)

	var items []ItemMeta

	for path != "" {
		resp, err := c.do(ctx, http.MethodGet, path, "", nil)
		if err != nil {
			return nil, fmt.Errorf("drive: listing children of %s/%s: %w", driveID, dirID, err)
		}

		var page listChildrenResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("drive: decoding children of %s/%s: %w", driveID, dirID, decodeErr)
		}

		for i := range page.Value {
			items = append(items, page.Value[i].toItemMeta())
		}

		// nextLink is absolute; strip the base so do() can re-append it.
		path = strings.TrimPrefix(page.NextLink, c.baseURL)
	}

	return items, nil
}

// CreateDir creates a directory under the given parent. The remote rejects
// duplicate names with ErrNameConflict.
func (c *Client) CreateDir(ctx context.Context, driveID, parentID, name string) (*ItemMeta, error) {
	reqBody, err := json.Marshal(createDirRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	})
	if err != nil {
		return nil, fmt.Errorf("drive: encoding create dir request: %w", err)
	}

	path := itemRef(driveID, parentID) + "/children"

	resp, err := c.do(ctx, http.MethodPost, path, contentTypeJSON, jsonBody(reqBody))
	if err != nil {
		return nil, fmt.Errorf("drive: creating directory %q in %s/%s: %w", name, driveID, parentID, err)
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body)
}

// Upload sends the local file at localPath as a child of parentID, replacing
// any existing content. The file is re-opened on each retry attempt so
// request bodies are never replayed mid-stream.
func (c *Client) Upload(ctx context.Context, driveID, parentID, name, localPath string) (*ItemMeta, error) {
	path := itemRef(driveID, parentID) + ":/" + url.PathEscape(name) + ":/content"

	mkBody := func() (io.Reader, error) {
		return os.Open(localPath)
	}

	resp, err := c.do(ctx, http.MethodPut, path, "application/octet-stream", mkBody)
	if err != nil {
		return nil, fmt.Errorf("drive: uploading %s: %w", localPath, err)
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body)
}

// Download streams the content of an item into localDest via a temp file in
// the same directory, renamed into place only after the full body is
// written. A partial download never clobbers the destination.
func (c *Client) Download(ctx context.Context, driveID, itemID, localDest string) error {
	resp, err := c.do(ctx, http.MethodGet, itemRef(driveID, itemID)+"/content", "", nil)
	if err != nil {
		return fmt.Errorf("drive: downloading %s/%s: %w", driveID, itemID, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dirOf(localDest), ".onedrived-*.part")
	if err != nil {
		return fmt.Errorf("drive: creating temp file for %s: %w", localDest, err)
	}

	tmpPath := tmp.Name()

	if _, copyErr := io.Copy(tmp, resp.Body); copyErr != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("drive: writing %s: %w", localDest, copyErr)
	}

	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("drive: closing %s: %w", tmpPath, closeErr)
	}

	if renameErr := os.Rename(tmpPath, localDest); renameErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("drive: renaming into %s: %w", localDest, renameErr)
	}

	return nil
}

// Delete removes an item from the remote drive.
func (c *Client) Delete(ctx context.Context, driveID, itemID string) error {
	resp, err := c.do(ctx, http.MethodDelete, itemRef(driveID, itemID), "", nil)
	if err != nil {
		return fmt.Errorf("drive: deleting %s/%s: %w", driveID, itemID, err)
	}

	resp.Body.Close()

	return nil
}

// Move re-parents and/or renames an item.
func (c *Client) Move(ctx context.Context, driveID, itemID, newParentID, newName string) (*ItemMeta, error) {
	req := moveItemRequest{Name: newName}
	if newParentID != "" {
		req.ParentReference = &moveParentRef{ID: newParentID}
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("drive: encoding move request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPatch, itemRef(driveID, itemID), contentTypeJSON, jsonBody(reqBody))
	if err != nil {
		return nil, fmt.Errorf("drive: moving %s/%s: %w", driveID, itemID, err)
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body)
}

// jsonBody wraps a marshaled payload in a bodyFunc so retries get a fresh
// reader over the same bytes.
func jsonBody(b []byte) bodyFunc {
	return func() (io.Reader, error) {
		return bytes.NewReader(b), nil
	}
}

// decodeItem parses an item response body into an ItemMeta.
func decodeItem(r io.Reader) (*ItemMeta, error) {
	var raw itemResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding item: %w", err)
	}

	meta := raw.toItemMeta()

	return &meta, nil
}

// dirOf returns the parent directory of a path, "." for bare names.
func dirOf(path string) string {
	if i := strings.LastIndexByte(path, os.PathSeparator); i >= 0 {
		return path[:i]
	}

	return "."
}
