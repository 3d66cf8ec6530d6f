package models

import "time"

// Project binds an internal workspace to exactly one GitHub repository and
// branch. The (RepoOwner, RepoName) pair and the slug are unique among live
// projects.
type Project struct {
	ID                 string
	Name               string
	Slug               string
	RepoOwner          string
	RepoName           string
	RepoURL            string
	DefaultBranch      string
	NotificationEmails []string
	CreatedByGitHubID  int64
	IsArchived         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
