package registry

// Asset is the read-through view of an asset record held by the registry.
// Holder is empty when the asset is checked in.
type Asset struct {
	Name           string   `json:"name"`
	ThumbnailURL   string   `json:"thumbnailUrl,omitempty"`
	Version        string   `json:"version"`
	Creator        string   `json:"creator"`
	LastModifiedBy string   `json:"lastModifiedBy"`
	Holder         string   `json:"checkedOutBy,omitempty"`
	IsCheckedOut   bool     `json:"isCheckedOut"`
	Materials      bool     `json:"materials"`
	Keywords       []string `json:"keywords"`
	Description    string   `json:"description"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}

// ListOptions filters and orders ListAssets results.
type ListOptions struct {
	Search        string
	Author        string
	CheckedInOnly bool
	// SortBy is one of name, author, updated or created.
	SortBy string
}

// VersionMap maps storage keys changed by a content upload to their storage
// version identifiers.
type VersionMap map[string]string

// Commit describes the authored change recorded with a metadata commit.
type Commit struct {
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Note      string `json:"note"`
}

// Metadata is the body of the second check-in phase.
type Metadata struct {
	Keywords   []string   `json:"keywords"`
	HasTexture bool       `json:"hasTexture"`
	Commit     Commit     `json:"Commit"`
	VersionMap VersionMap `json:"version_map"`
}

type assetsEnvelope struct {
	Assets []Asset `json:"assets"`
}

type assetEnvelope struct {
	Message string `json:"message,omitempty"`
	Asset   *Asset `json:"asset"`
}

type checkinEnvelope struct {
	Message    string     `json:"message,omitempty"`
	VersionMap VersionMap `json:"version_map"`
}

type checkoutRequest struct {
	Holder string `json:"pennkey"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}
