package model

// RepoRecord is the local projection of a GitHub repository owned by a user.
// Key is the surrogate primary key assigned by the store; RepoID is the
// GitHub numeric identity and is unique within the store.
type RepoRecord struct {
	Key         int64
	RepoID      int64
	Name        string
	Description string
	URL         string
	AvatarURL   string
}

// RepoListing is the result of a single remote listing call.
type RepoListing struct {
	Repos []RepoRecord
	// FromCache is true when every page was answered from the HTTP cache after
	// a successful revalidation. It is informational; Repos is always complete.
	FromCache bool
}

// UpsertStatus reports whether an upsert created a new row or updated one.
type UpsertStatus struct {
	Created bool
	Updated bool
}

// Changed returns true when the upsert wrote a row.
func (s UpsertStatus) Changed() bool {
	return s.Created || s.Updated
}
