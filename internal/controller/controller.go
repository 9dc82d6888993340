package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fasttrack/internal/models"
)

type Service interface {
	MandatoryFor(ctx context.Context, marketType models.MarketType) ([]models.Document, error)
	OptionalFor(ctx context.Context, marketType models.MarketType) ([]models.Document, error)

	ConfigureMarket(ctx context.Context, editor models.Editor, draft models.MarketDraft) (models.Market, []models.Requirement, error)
	MarketWithRequirements(ctx context.Context, marketId string) (models.Market, []models.Requirement, error)
	EditorMarkets(ctx context.Context, editorId string, limit, offset int) ([]models.Market, error)

	CandidateMarket(ctx context.Context, fastTrackId string) (models.Market, []models.Requirement, error)
	FindOrCreateApplication(ctx context.Context, fastTrackId, siret, companyName string) (models.Application, error)
	Application(ctx context.Context, applicationId string) (models.Application, error)
	UpdateContactInfo(ctx context.Context, applicationId string, upd models.ContactUpdate) (models.Application, error)
	AttachDocument(ctx context.Context, applicationId string, documentId int64, filename, contentType string, data []byte) (models.Attachment, error)
	CompletenessGap(ctx context.Context, applicationId string) ([]string, []int64, error)
	ReadyForSubmission(ctx context.Context, applicationId string) (bool, error)
	SubmitApplication(ctx context.Context, applicationId string) (models.Application, error)
	RegenerateArtifacts(ctx context.Context, applicationId string) (models.Application, error)

	EditorByCredentials(ctx context.Context, clientId, clientSecret string) (models.Editor, error)
	Authenticate(ctx context.Context, editor models.Editor) (models.TokenResult, error)
	RefreshToken(ctx context.Context, editor models.Editor) (models.TokenResult, error)
	TokenStatus(ctx context.Context, editor models.Editor, token string) (models.TokenStatus, error)
	RevokeToken(ctx context.Context, editor models.Editor, token string)
	MachineStatus(editor models.Editor) models.MachineStatus

	EditorFromToken(ctx context.Context, token string) (models.Editor, error)
	AuthorizeMarketAccess(editor models.Editor, market models.Market) error
	Artifact(ctx context.Context, editor models.Editor, applicationId, kind string) ([]byte, string, error)
	SubmittedApplications(ctx context.Context, editor models.Editor, marketId string, limit, offset int) ([]models.Application, error)
}

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// GET /api/ping
func (c *Controller) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

//// Document catalog

// GET /api/documents
func (c *Controller) Documents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	marketType := models.MarketType(query.Get("market_type"))
	if !models.ValidMarketType(marketType) {
		c.errorResponse(w, http.StatusBadRequest, "empty or invalid market_type supplied: "+string(marketType))
		return
	}

	mandatory, err := c.service.MandatoryFor(r.Context(), marketType)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}
	optional, err := c.service.OptionalFor(r.Context(), marketType)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	resp := map[string][]DocumentResp{
		"mandatory": make([]DocumentResp, 0, len(mandatory)),
		"optional":  make([]DocumentResp, 0, len(optional)),
	}
	for _, d := range mandatory {
		resp["mandatory"] = append(resp["mandatory"], NewDocumentResp(d))
	}
	for _, d := range optional {
		resp["optional"] = append(resp["optional"], NewDocumentResp(d))
	}
	c.marshalResponse(w, resp)
}

//// Candidate flow (public, keyed by the market's fast-track id)

// GET /api/fast-track/{fastTrackId}
func (c *Controller) CandidateMarket(w http.ResponseWriter, r *http.Request) {
	fastTrackId := chi.URLParam(r, "fastTrackId")
	if len(fastTrackId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty fastTrackId supplied")
		return
	}

	market, requirements, err := c.service.CandidateMarket(r.Context(), fastTrackId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewMarketResp(market, requirements))
}

// POST /api/fast-track/{fastTrackId}/applications
func (c *Controller) NewApplication(w http.ResponseWriter, r *http.Request) {
	fastTrackId := chi.URLParam(r, "fastTrackId")
	if len(fastTrackId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty fastTrackId supplied")
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	req, err := ParseNewApplicationReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := c.service.FindOrCreateApplication(r.Context(), fastTrackId, req.SIRET, req.CompanyName)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewApplicationResp(app))
}

// GET /api/applications/{applicationId}
func (c *Controller) GetApplication(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	app, err := c.service.Application(r.Context(), applicationId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewApplicationResp(app))
}

// PATCH /api/applications/{applicationId}
func (c *Controller) UpdateContactInfo(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	upd, err := ParseContactUpdateReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	app, err := c.service.UpdateContactInfo(r.Context(), applicationId, upd)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewApplicationResp(app))
}

// PUT /api/applications/{applicationId}/documents/{documentId}
//
// The request body is the raw file content; the original filename travels in
// the 'filename' query parameter and the media type in Content-Type.
func (c *Controller) AttachDocument(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	documentId, err := strconv.ParseInt(chi.URLParam(r, "documentId"), 10, 64)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "malformed documentId supplied")
		return
	}

	filename := r.URL.Query().Get("filename")
	if len(filename) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty filename supplied")
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}
	if len(data) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty file content supplied")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if len(contentType) == 0 {
		contentType = "application/octet-stream"
	}

	att, err := c.service.AttachDocument(r.Context(), applicationId, documentId, filename, contentType, data)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, map[string]any{
		"documentId": att.DocumentId,
		"filename":   att.Filename,
		"sizeBytes":  att.SizeBytes,
		"uploadedAt": att.UploadedAt,
	})
}

// GET /api/applications/{applicationId}/readiness
func (c *Controller) Readiness(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	missingFields, missingDocIds, err := c.service.CompletenessGap(r.Context(), applicationId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	ready, err := c.service.ReadyForSubmission(r.Context(), applicationId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, ReadinessResp{
		Complete:           len(missingFields) == 0 && len(missingDocIds) == 0,
		Ready:              ready,
		MissingFields:      missingFields,
		MissingDocumentIds: missingDocIds,
	})
}

// POST /api/applications/{applicationId}/submit
func (c *Controller) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	app, err := c.service.SubmitApplication(r.Context(), applicationId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewApplicationResp(app))
}

// POST /api/applications/{applicationId}/artifacts
func (c *Controller) RegenerateArtifacts(w http.ResponseWriter, r *http.Request) {
	applicationId := chi.URLParam(r, "applicationId")
	if len(applicationId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
		return
	}

	app, err := c.service.RegenerateArtifacts(r.Context(), applicationId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewApplicationResp(app))
}

//// Machine authentication (editor platforms)

// POST /api/v1/oauth/token
func (c *Controller) IssueToken(w http.ResponseWriter, r *http.Request) {
	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	req, err := ParseTokenReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	editor, err := c.service.EditorByCredentials(r.Context(), req.ClientId, req.ClientSecret)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	result, err := c.service.Authenticate(r.Context(), editor)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, c.tokenResp(result))
}

// POST /api/v1/oauth/refresh
func (c *Controller) RefreshToken(w http.ResponseWriter, r *http.Request) {
	editor, ok := c.editorFromRequest(w, r)
	if !ok {
		return
	}

	result, err := c.service.RefreshToken(r.Context(), editor)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, c.tokenResp(result))
}

// GET /api/v1/oauth/status
func (c *Controller) TokenStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := c.bearerToken(r)
	if !ok {
		c.errorResponse(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	editor, err := c.service.EditorFromToken(r.Context(), token)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	status, err := c.service.TokenStatus(r.Context(), editor, token)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	machine := c.service.MachineStatus(editor)

	c.marshalResponse(w, map[string]any{
		"state": machine.State,
		"token": NewTokenStatusResp(status),
	})
}

// POST /api/v1/oauth/revoke
func (c *Controller) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token, ok := c.bearerToken(r)
	if !ok {
		c.errorResponse(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	editor, err := c.service.EditorFromToken(r.Context(), token)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.service.RevokeToken(r.Context(), editor, token)
	w.WriteHeader(http.StatusNoContent)
}

//// Editor machine API (bearer gated)

// POST /api/v1/markets
func (c *Controller) NewMarket(w http.ResponseWriter, r *http.Request) {
	editor, ok := c.editorFromRequest(w, r)
	if !ok {
		return
	}

	data, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not read request body")
		return
	}

	draft, err := ParseNewMarketReq(data)
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	market, requirements, err := c.service.ConfigureMarket(r.Context(), editor, draft)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	c.marshalResponse(w, NewMarketResp(market, requirements))
}

// GET /api/v1/markets
func (c *Controller) EditorMarkets(w http.ResponseWriter, r *http.Request) {
	editor, ok := c.editorFromRequest(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, err := c.getQueryInt(query, "limit")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "invalid value of 'limit' query parameter: "+query.Get("limit"))
		return
	}
	offset, err := c.getQueryInt(query, "offset")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "invalid value of 'offset' query parameter: "+query.Get("offset"))
		return
	}

	markets, err := c.service.EditorMarkets(r.Context(), editor.Id, limit, offset)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	resp := make([]MarketResp, 0, len(markets))
	for _, m := range markets {
		resp = append(resp, NewMarketResp(m, nil))
	}
	c.marshalResponse(w, resp)
}

// GET /api/v1/markets/{marketId}
func (c *Controller) MarketDetail(w http.ResponseWriter, r *http.Request) {
	editor, ok := c.editorFromRequest(w, r)
	if !ok {
		return
	}

	marketId := chi.URLParam(r, "marketId")
	if len(marketId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty marketId supplied")
		return
	}

	market, requirements, err := c.service.MarketWithRequirements(r.Context(), marketId)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	if err = c.service.AuthorizeMarketAccess(editor, market); err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	c.marshalResponse(w, NewMarketResp(market, requirements))
}

// GET /api/v1/markets/{marketId}/applications
func (c *Controller) MarketApplications(w http.ResponseWriter, r *http.Request) {
	editor, ok := c.editorFromRequest(w, r)
	if !ok {
		return
	}

	marketId := chi.URLParam(r, "marketId")
	if len(marketId) == 0 {
		c.errorResponse(w, http.StatusBadRequest, "empty marketId supplied")
		return
	}

	query := r.URL.Query()
	limit, err := c.getQueryInt(query, "limit")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "invalid value of 'limit' query parameter: "+query.Get("limit"))
		return
	}
	offset, err := c.getQueryInt(query, "offset")
	if err != nil {
		c.errorResponse(w, http.StatusBadRequest, "invalid value of 'offset' query parameter: "+query.Get("offset"))
		return
	}

	apps, err := c.service.SubmittedApplications(r.Context(), editor, marketId, limit, offset)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return
	}

	resp := make([]ApplicationResp, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, NewApplicationResp(app))
	}
	c.marshalResponse(w, resp)
}

// GET /api/v1/applications/{applicationId}/attestation
// GET /api/v1/applications/{applicationId}/bundle
func (c *Controller) Artifact(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		editor, ok := c.editorFromRequest(w, r)
		if !ok {
			return
		}

		applicationId := chi.URLParam(r, "applicationId")
		if len(applicationId) == 0 {
			c.errorResponse(w, http.StatusBadRequest, "empty applicationId supplied")
			return
		}

		data, contentType, err := c.service.Artifact(r.Context(), editor, applicationId, kind)
		if err != nil {
			c.serviceErrorResponse(w, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if _, err = w.Write(data); err != nil {
			slog.Error("could not write artifact response", "error", err)
		}
	}
}

// Service

type ErrorResponse struct {
	Reason string `json:"reason"`
}

func (c *Controller) bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || len(token) == 0 {
		return "", false
	}
	return token, true
}

func (c *Controller) editorFromRequest(w http.ResponseWriter, r *http.Request) (models.Editor, bool) {
	token, ok := c.bearerToken(r)
	if !ok {
		c.errorResponse(w, http.StatusUnauthorized, "missing bearer token")
		return models.Editor{}, false
	}

	editor, err := c.service.EditorFromToken(r.Context(), token)
	if err != nil {
		c.serviceErrorResponse(w, err)
		return models.Editor{}, false
	}

	return editor, true
}

func (c *Controller) tokenResp(result models.TokenResult) TokenResp {
	return TokenResp{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
		Scope:       result.Scope,
		CreatedAt:   result.ExpiresAt.Unix() - result.ExpiresIn,
	}
}

func (c *Controller) getQueryInt(query url.Values, key string) (int, error) {
	strs, ok := query[key]
	if ok && len(strs) > 0 {
		return strconv.Atoi(strs[0])
	}
	return 0, nil
}

func (c *Controller) errorResponse(w http.ResponseWriter, status int, text string) {
	w.WriteHeader(status)

	data, err := json.Marshal(ErrorResponse{Reason: text})
	if err != nil {
		slog.Error("controller.Controller.errorResponse", "error", err)
		return
	}

	if _, err = w.Write(data); err != nil {
		slog.Error("controller.Controller.errorResponse", "error", err)
	}
}

func (c *Controller) serviceErrorResponse(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var refErr *models.InvalidReferenceError
	var incErr *models.IncompleteError
	var authErr *models.AuthFailedError

	switch {
	case errors.As(err, &verr):
		c.detailedErrorResponse(w, http.StatusBadRequest, verr.Error(), map[string]any{"fields": verr.Fields})
	case errors.As(err, &refErr):
		c.detailedErrorResponse(w, http.StatusBadRequest, "invalid document references supplied", map[string]any{"documentIds": refErr.Ids})
	case errors.As(err, &incErr):
		c.detailedErrorResponse(w, http.StatusUnprocessableEntity, "application is incomplete", map[string]any{
			"missingFields":      incErr.MissingFields,
			"missingDocumentIds": incErr.MissingDocumentIds,
		})
	case errors.As(err, &authErr):
		c.errorResponse(w, http.StatusUnauthorized, authErr.Error())
	case errors.Is(err, models.ErrUnauthorized):
		c.errorResponse(w, http.StatusUnauthorized, "editor is not authorized on the platform")
	case errors.Is(err, models.ErrForbidden):
		c.errorResponse(w, http.StatusForbidden, "access to the requested resource is denied")
	case errors.Is(err, models.ErrNotReady):
		c.errorResponse(w, http.StatusForbidden, "machine authentication is not enabled for this editor")
	case errors.Is(err, models.ErrNoEditor),
		errors.Is(err, models.ErrNoMarket),
		errors.Is(err, models.ErrNoApplication),
		errors.Is(err, models.ErrNoDocument),
		errors.Is(err, models.ErrNoArtifact):
		c.errorResponse(w, http.StatusNotFound, "requested resource does not exist or is unaccessible")
	case errors.Is(err, models.ErrMarketClosed):
		c.errorResponse(w, http.StatusGone, "market is closed for applications")
	case errors.Is(err, models.ErrDeadlinePassed):
		c.errorResponse(w, http.StatusGone, "market deadline has passed")
	case errors.Is(err, models.ErrAlreadySubmitted):
		c.errorResponse(w, http.StatusConflict, "application has already been submitted")
	case errors.Is(err, models.ErrNotSubmitted):
		c.errorResponse(w, http.StatusConflict, "application has not been submitted yet")
	default:
		slog.Error("controller: unhandled service error", "error", err)
		c.errorResponse(w, http.StatusInternalServerError, "internal server error")
	}
}

func (c *Controller) detailedErrorResponse(w http.ResponseWriter, status int, text string, details map[string]any) {
	w.WriteHeader(status)

	body := map[string]any{"reason": text}
	for k, v := range details {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("controller.Controller.detailedErrorResponse", "error", err)
		return
	}

	if _, err = w.Write(data); err != nil {
		slog.Error("controller.Controller.detailedErrorResponse", "error", err)
	}
}

func (c *Controller) marshalResponse(w http.ResponseWriter, data any) {
	d, err := json.Marshal(data)
	if err != nil {
		c.errorResponse(w, http.StatusInternalServerError, "could not marshal response data")
		return
	}

	if _, err = w.Write(d); err != nil {
		slog.Error("controller.Controller.marshalResponse", "error", err)
	}
}

func (c *Controller) readBody(src io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	src.Close()
	return data, nil
}
