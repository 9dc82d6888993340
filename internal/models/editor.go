package models

import "time"

// Editor is an authorized tenant: the platform of a buying organization.
type Editor struct {
	Id                 string
	Name               string
	ClientId           string
	ClientSecret       string
	CallbackURL        string
	Authorized         bool
	Active             bool
	MachineAuthEnabled bool
	TokenExpiresAt     *time.Time
	TokenLastUsedAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AuthorizedAndActive reports whether the editor may configure markets.
func (e Editor) AuthorizedAndActive() bool {
	return e.Authorized && e.Active
}

// MachineAuthReady reports whether the editor may use the client-credentials flow.
func (e Editor) MachineAuthReady() bool {
	return e.AuthorizedAndActive() && e.MachineAuthEnabled
}
