package application

// QuerySubmitter accepts queries for admission.
type QuerySubmitter interface {
	Submit(q Query) error
}

// QueryFactory builds queries and hands them to admission.
type QueryFactory struct {
	submitter   QuerySubmitter
	defaultUser string
}

// NewQueryFactory creates a factory. defaultUser is used when a caller does
// not name a user.
func NewQueryFactory(submitter QuerySubmitter, defaultUser string) *QueryFactory {
	return &QueryFactory{submitter: submitter, defaultUser: defaultUser}
}

// DefaultUser returns the user fetched when none is given.
func (f *QueryFactory) DefaultUser() string {
	return f.defaultUser
}

// BuildReposQuery creates a repos query without submitting it.
func (f *QueryFactory) BuildReposQuery(user string, refresh bool) *ReposQuery {
	if user == "" {
		user = f.defaultUser
	}
	return NewReposQuery(user, refresh)
}

// StartReposQuery builds a repos query and submits it. The outcome arrives as
// a ReposFetchedEvent.
func (f *QueryFactory) StartReposQuery(user string, refresh bool) (*ReposQuery, error) {
	q := f.BuildReposQuery(user, refresh)
	if err := f.submitter.Submit(q); err != nil {
		return q, err
	}
	return q, nil
}
