package drive

import "time"

// ItemMeta is the normalized view of a remote file or directory, produced
// from the provider's wire format by toItemMeta.
type ItemMeta struct {
	ID         string
	Name       string
	Size       int64
	ETag       string
	IsDir      bool
	ModifiedAt time.Time
}

// Drive describes a remote storage container and its quota.
type Drive struct {
	ID         string
	DriveType  string // "personal" or "business"
	QuotaTotal int64
	QuotaUsed  int64
}

// --- wire format ---
// Unexported structs mirror the provider JSON exactly; callers only ever
// see ItemMeta and Drive.

type itemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []itemResponse `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type driveResponse struct {
	ID        string      `json:"id"`
	DriveType string      `json:"driveType"`
	Quota     *quotaFacet `json:"quota"`
}

type quotaFacet struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

type listDrivesResponse struct {
	Value []driveResponse `json:"value"`
}

type createDirRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"`
}

type moveItemRequest struct {
	ParentReference *moveParentRef `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

type moveParentRef struct {
	ID string `json:"id"`
}

// toItemMeta normalizes a wire item into an ItemMeta. Invalid timestamps
// fall back to the zero time; the diff treats them as changed.
func (r *itemResponse) toItemMeta() ItemMeta {
	meta := ItemMeta{
		ID:    r.ID,
		Name:  r.Name,
		Size:  r.Size,
		ETag:  r.ETag,
		IsDir: r.Folder != nil,
	}

	if r.LastModifiedDateTime != "" {
		if t, err := time.Parse(time.RFC3339, r.LastModifiedDateTime); err == nil {
			meta.ModifiedAt = t
		}
	}

	return meta
}
