package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fasttrack/internal/authority"
	"fasttrack/internal/models"
)

func TestValidateDraft(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	valid := models.MarketDraft{
		Title:       "Renovation du groupe scolaire",
		Description: "Travaux de renovation complete des batiments du groupe scolaire.",
		Deadline:    now.Add(48 * time.Hour),
		MarketType:  models.MTWorks,
	}
	assert.Nil(t, ValidateDraft(valid, now))

	cases := []struct {
		name   string
		mutate func(*models.MarketDraft)
		field  string
	}{
		{"short title", func(d *models.MarketDraft) { d.Title = "ab" }, "title"},
		{"long title", func(d *models.MarketDraft) { d.Title = strings.Repeat("x", 256) }, "title"},
		{"short description", func(d *models.MarketDraft) { d.Description = "too short" }, "description"},
		{"long description", func(d *models.MarketDraft) { d.Description = strings.Repeat("x", 2001) }, "description"},
		{"bad market type", func(d *models.MarketDraft) { d.MarketType = "consulting" }, "market_type"},
		{"zero deadline", func(d *models.MarketDraft) { d.Deadline = time.Time{} }, "deadline"},
		{"deadline too soon", func(d *models.MarketDraft) { d.Deadline = now.Add(30 * time.Minute) }, "deadline"},
		{"deadline in the past", func(d *models.MarketDraft) { d.Deadline = now.Add(-time.Hour) }, "deadline"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft := valid
			tc.mutate(&draft)

			verr := ValidateDraft(draft, now)
			require.NotNil(t, verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	// deadline exactly at the lead boundary is acceptable
	boundary := valid
	boundary.Deadline = now.Add(minDeadlineLead)
	assert.Nil(t, ValidateDraft(boundary, now))
}

func TestNewSubmissionId(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^FT20260315[0-9A-F]{8}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewSubmissionId(now)
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "duplicate submission id %s", id)
		seen[id] = true
	}
}

func TestRenderAttestation(t *testing.T) {
	works := models.MTWorks
	submittedAt := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	market := models.Market{
		Title:       "Construction du gymnase municipal",
		FastTrackId: "0123456789abcdef0123456789abcdef",
		Deadline:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		MarketType:  works,
	}
	app := models.Application{
		SIRET:         "12345678901234",
		CompanyName:   "BTP Durand",
		Email:         "contact@btp-durand.fr",
		Phone:         "0612345678",
		ContactPerson: "Marie Durand",
		SubmissionId:  "FT20260315A1B2C3D4",
		SubmittedAt:   &submittedAt,
	}
	requirements := []models.Requirement{
		{DocumentId: 1, Required: true, Document: models.Document{Id: 1, Name: "Extrait Kbis"}},
		{DocumentId: 2, Required: true, Document: models.Document{Id: 2, Name: "Attestation fiscale"}},
		{DocumentId: 3, Required: false, Document: models.Document{Id: 3, Name: "Certification ISO"}},
	}
	attachments := []models.Attachment{
		{DocumentId: 1, Filename: "kbis.pdf"},
	}

	text := RenderAttestation(market, app, requirements, attachments)

	assert.Contains(t, text, "ATTESTATION DE DEPOT FAST TRACK")
	assert.Contains(t, text, "Construction du gymnase municipal")
	assert.Contains(t, text, "123 456 789 01234")
	assert.Contains(t, text, "FT20260315A1B2C3D4")
	assert.Contains(t, text, "15/03/2026 a 10:30:00")

	// only the verified attachment is reported as provided
	assert.Contains(t, text, "Extrait Kbis: Fourni")
	assert.Contains(t, text, "Attestation fiscale: Manquant")
	assert.Contains(t, text, "Certification ISO: Non fourni")
}

func TestRenderAttestationNoOptional(t *testing.T) {
	requirements := []models.Requirement{
		{DocumentId: 1, Required: true, Document: models.Document{Id: 1, Name: "Extrait Kbis"}},
	}

	text := RenderAttestation(models.Market{}, models.Application{}, requirements, nil)
	assert.NotContains(t, text, "Documents optionnels")
}

func TestAuthenticateNotReady(t *testing.T) {
	fake := &fakeAuthority{}
	svc := NewService(nil, fake, nil)

	for _, editor := range []models.Editor{
		{Authorized: false, Active: true, MachineAuthEnabled: true},
		{Authorized: true, Active: false, MachineAuthEnabled: true},
		{Authorized: true, Active: true, MachineAuthEnabled: false},
	} {
		_, err := svc.Authenticate(context.Background(), editor)
		assert.ErrorIs(t, err, models.ErrNotReady)
	}

	// the gate fires before the authority is ever contacted
	assert.Zero(t, fake.issueCalls())
}

func TestMachineStatus(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	svc := NewService(nil, &fakeAuthority{}, nil, WithClock(func() time.Time { return now }))

	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name   string
		editor models.Editor
		state  models.MachineAuthState
	}{
		{"not ready", models.Editor{Authorized: true, Active: true}, models.MachineNotReady},
		{"never authenticated", readyEditor(nil), models.MachineNotAuthenticated},
		{"expired", readyEditor(&past), models.MachineTokenExpired},
		{"authenticated", readyEditor(&future), models.MachineAuthenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := svc.MachineStatus(tc.editor)
			assert.Equal(t, tc.state, status.State)

			if tc.state == models.MachineAuthenticated {
				require.NotNil(t, status.Token)
				assert.Equal(t, int64(3600), status.Token.ExpiresIn)
				assert.True(t, status.Token.Valid)
			} else {
				assert.Nil(t, status.Token)
			}
		})
	}

	assert.True(t, svc.MachineStatus(readyEditor(&past)).NeedsRefresh())
	assert.True(t, svc.MachineStatus(readyEditor(nil)).NeedsRefresh())
	assert.False(t, svc.MachineStatus(readyEditor(&future)).NeedsRefresh())
}

func TestAuthorizeMarketAccess(t *testing.T) {
	svc := NewService(nil, &fakeAuthority{}, nil)

	owner := models.Editor{Id: "editor-1"}
	other := models.Editor{Id: "editor-2"}
	market := models.Market{Id: "market-1", EditorId: "editor-1"}

	assert.NoError(t, svc.AuthorizeMarketAccess(owner, market))
	assert.ErrorIs(t, svc.AuthorizeMarketAccess(other, market), models.ErrForbidden)
}

func TestTokenStatusClientMismatch(t *testing.T) {
	fake := &fakeAuthority{
		introspection: authority.Introspection{
			Active:    true,
			ClientId:  "someone-else",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	svc := NewService(nil, fake, nil)

	editor := readyEditor(nil)
	editor.ClientId = "the-editor"

	_, err := svc.TokenStatus(context.Background(), editor, "token")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSplitScopes(t *testing.T) {
	assert.Nil(t, splitScopes(""))
	assert.Equal(t, []string{"app_market_config", "app_market_read"}, splitScopes("app_market_config app_market_read"))
}

//// Service

func readyEditor(tokenExpiresAt *time.Time) models.Editor {
	return models.Editor{
		Id:                 "editor-1",
		Name:               "Test Editor",
		ClientId:           "client-1",
		ClientSecret:       "secret-1",
		Authorized:         true,
		Active:             true,
		MachineAuthEnabled: true,
		TokenExpiresAt:     tokenExpiresAt,
	}
}

// fakeAuthority is an in-memory TokenAuthority for tests.
type fakeAuthority struct {
	mu            sync.Mutex
	issued        int
	revoked       int
	issueErr      error
	introspectErr error
	token         authority.Token
	introspection authority.Introspection
}

func (f *fakeAuthority) Issue(_ context.Context, clientId, _ string, scopes []string) (authority.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++

	if f.issueErr != nil {
		return authority.Token{}, f.issueErr
	}

	tok := f.token
	if tok.AccessToken == "" {
		tok = authority.Token{
			AccessToken: "token-for-" + clientId,
			TokenType:   "Bearer",
			Scope:       strings.Join(scopes, " "),
			ExpiresAt:   time.Now().Add(time.Hour),
		}
	}
	return tok, nil
}

func (f *fakeAuthority) Introspect(_ context.Context, _ string) (authority.Introspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.introspectErr != nil {
		return authority.Introspection{}, f.introspectErr
	}
	return f.introspection, nil
}

func (f *fakeAuthority) Revoke(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked++
	return nil
}

func (f *fakeAuthority) setIntrospection(active bool, clientId string, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.introspection = authority.Introspection{
		Active:    active,
		ClientId:  clientId,
		Scope:     strings.Join(models.MachineScopes, " "),
		ExpiresAt: expiresAt,
	}
}

func (f *fakeAuthority) issueCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}
