package models

import (
	"fmt"
	"regexp"
	"time"
)

type ApplicationStatus string

const (
	AppInProgress ApplicationStatus = "in_progress"
	AppSubmitted  ApplicationStatus = "submitted"
)

func ValidApplicationStatus(s ApplicationStatus) bool {
	switch s {
	case AppInProgress, AppSubmitted:
		return true
	default:
		return false
	}
}

var siretPattern = regexp.MustCompile(`^\d{14}$`)

// ValidSIRET reports whether s is a well-formed 14-digit business identifier.
func ValidSIRET(s string) bool {
	return siretPattern.MatchString(s)
}

// Application is one candidate company's bid against one market. At most one
// application exists per (market, siret); the pair is unique at the storage
// layer. Status only ever moves in_progress -> submitted.
type Application struct {
	Id              string
	MarketId        string
	SIRET           string
	CompanyName     string
	Email           string
	Phone           string
	ContactPerson   string
	Status          ApplicationStatus
	SubmissionId    string
	SubmittedAt     *time.Time
	AttestationPath string
	BundlePath      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Application) Submitted() bool {
	return a.Status == AppSubmitted
}

func (a Application) InProgress() bool {
	return a.Status == AppInProgress
}

// FormattedSIRET renders the identifier in the conventional 3-3-3-5 grouping.
func (a Application) FormattedSIRET() string {
	if !ValidSIRET(a.SIRET) {
		return a.SIRET
	}
	return fmt.Sprintf("%s %s %s %s", a.SIRET[0:3], a.SIRET[3:6], a.SIRET[6:9], a.SIRET[9:14])
}

// Attachment is an uploaded blob fulfilling one document requirement. The
// document identity is an explicit foreign key, never parsed back out of the
// filename. One attachment per (application, document); re-upload replaces.
type Attachment struct {
	Id            int64
	ApplicationId string
	DocumentId    int64
	Filename      string
	BlobPath      string
	ContentType   string
	SizeBytes     int64
	UploadedAt    time.Time
}

// ContactUpdate carries a partial contact-info change. Nil fields keep the
// stored value.
type ContactUpdate struct {
	CompanyName   *string
	Email         *string
	Phone         *string
	ContactPerson *string
}
