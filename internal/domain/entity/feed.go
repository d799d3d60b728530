package entity

// Feed is a subscription within an account. ID is provider-specific (the
// feed URL for local accounts, a stream ID for Reader API accounts) and never
// changes; Name and folder membership may.
type Feed struct {
	ID         string
	URL        string
	Name       string
	HomePage   string
	ExternalID string
	FolderIDs  []string
}

// Folder groups feeds within an account.
type Folder struct {
	ID         string
	Name       string
	ExternalID *string
}

// Validate checks the feed's required fields.
func (f *Feed) Validate() error {
	if f.ID == "" {
		return &ValidationError{Field: "id", Message: "feed id is required"}
	}
	return ValidateURL(f.URL)
}
