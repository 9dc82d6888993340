package controller

import (
	"encoding/json"
	"fmt"
	"time"

	"fasttrack/internal/models"
)

// New market request

type NewMarketReq struct {
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	Deadline            string  `json:"deadline"`
	MarketType          string  `json:"marketType"`
	OptionalDocumentIds []int64 `json:"optionalDocumentIds"`
}

func ParseNewMarketReq(data []byte) (models.MarketDraft, error) {
	req := &NewMarketReq{}

	err := json.Unmarshal(data, req)
	if err != nil {
		return models.MarketDraft{}, err
	}

	draft := models.MarketDraft{
		Title:               req.Title,
		Description:         req.Description,
		MarketType:          models.MarketType(req.MarketType),
		OptionalDocumentIds: req.OptionalDocumentIds,
	}

	if len(req.Deadline) > 0 {
		draft.Deadline, err = time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			return models.MarketDraft{}, fmt.Errorf("invalid deadline, expected RFC3339 timestamp: %s", req.Deadline)
		}
	}

	return draft, nil
}

// New application request

type NewApplicationReq struct {
	SIRET       string `json:"siret"`
	CompanyName string `json:"companyName"`
}

func ParseNewApplicationReq(data []byte) (*NewApplicationReq, error) {
	req := &NewApplicationReq{}

	err := json.Unmarshal(data, req)
	if err != nil {
		return nil, err
	}

	if !models.ValidSIRET(req.SIRET) {
		return nil, fmt.Errorf("invalid siret supplied: must contain exactly 14 digits")
	}
	if err = checkLengthLimit(req.CompanyName, "companyName", 255); err != nil {
		return nil, err
	}

	return req, nil
}

// Contact update request

func ParseContactUpdateReq(data []byte) (models.ContactUpdate, error) {
	vals := make(map[string]interface{})

	err := json.Unmarshal(data, &vals)
	if err != nil {
		return models.ContactUpdate{}, err
	}

	upd := models.ContactUpdate{}

	str, ok, err := checkRequestField(vals, "companyName", 255)
	if err != nil {
		return upd, err
	}
	if ok {
		upd.CompanyName = &str
	}

	str, ok, err = checkRequestField(vals, "email", 255)
	if err != nil {
		return upd, err
	}
	if ok {
		upd.Email = &str
	}

	str, ok, err = checkRequestField(vals, "phone", 50)
	if err != nil {
		return upd, err
	}
	if ok {
		upd.Phone = &str
	}

	str, ok, err = checkRequestField(vals, "contactPerson", 255)
	if err != nil {
		return upd, err
	}
	if ok {
		upd.ContactPerson = &str
	}

	return upd, nil
}

// Token request

type TokenReq struct {
	ClientId     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func ParseTokenReq(data []byte) (*TokenReq, error) {
	req := &TokenReq{}

	err := json.Unmarshal(data, req)
	if err != nil {
		return nil, err
	}

	if len(req.ClientId) == 0 || len(req.ClientSecret) == 0 {
		return nil, fmt.Errorf("clientId and clientSecret are required")
	}

	return req, nil
}

// Responses

type MarketResp struct {
	Id           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Deadline     time.Time         `json:"deadline"`
	FastTrackId  string            `json:"fastTrackId"`
	MarketType   models.MarketType `json:"marketType"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"createdAt"`
	Requirements []RequirementResp `json:"requirements,omitempty"`
}

type DocumentResp struct {
	Id          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Mandatory   bool   `json:"mandatory"`
	Category    string `json:"category"`
	MarketType  string `json:"marketType,omitempty"`
}

func NewDocumentResp(doc models.Document) DocumentResp {
	resp := DocumentResp{
		Id:          doc.Id,
		Name:        doc.Name,
		Description: doc.Description,
		Mandatory:   doc.Mandatory,
		Category:    doc.Category,
	}
	if doc.MarketType != nil {
		resp.MarketType = string(*doc.MarketType)
	}
	return resp
}

type RequirementResp struct {
	DocumentId  int64  `json:"documentId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

func NewMarketResp(market models.Market, requirements []models.Requirement) MarketResp {
	resp := MarketResp{
		Id:          market.Id,
		Title:       market.Title,
		Description: market.Description,
		Deadline:    market.Deadline,
		FastTrackId: market.FastTrackId,
		MarketType:  market.MarketType,
		Active:      market.Active,
		CreatedAt:   market.CreatedAt,
	}
	for _, r := range requirements {
		resp.Requirements = append(resp.Requirements, RequirementResp{
			DocumentId:  r.DocumentId,
			Name:        r.Document.Name,
			Description: r.Document.Description,
			Required:    r.Required,
		})
	}
	return resp
}

type ApplicationResp struct {
	Id            string     `json:"id"`
	SIRET         string     `json:"siret"`
	CompanyName   string     `json:"companyName"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	ContactPerson string     `json:"contactPerson"`
	Status        string     `json:"status"`
	SubmissionId  string     `json:"submissionId,omitempty"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
}

func NewApplicationResp(app models.Application) ApplicationResp {
	return ApplicationResp{
		Id:            app.Id,
		SIRET:         app.SIRET,
		CompanyName:   app.CompanyName,
		Email:         app.Email,
		Phone:         app.Phone,
		ContactPerson: app.ContactPerson,
		Status:        string(app.Status),
		SubmissionId:  app.SubmissionId,
		SubmittedAt:   app.SubmittedAt,
	}
}

type TokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
}

type TokenStatusResp struct {
	Valid      bool       `json:"valid"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ExpiresIn  int64      `json:"expiresIn"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func NewTokenStatusResp(status models.TokenStatus) TokenStatusResp {
	return TokenStatusResp{
		Valid:      status.Valid,
		ExpiresAt:  status.ExpiresAt,
		ExpiresIn:  status.ExpiresIn,
		Scopes:     status.Scopes,
		LastUsedAt: status.LastUsedAt,
	}
}

type ReadinessResp struct {
	Complete           bool     `json:"complete"`
	Ready              bool     `json:"ready"`
	MissingFields      []string `json:"missingFields"`
	MissingDocumentIds []int64  `json:"missingDocumentIds"`
}

// Service

func checkLengthLimit(str, fieldName string, limit int) error {
	if len(str) > limit {
		return fmt.Errorf("field '%s' exceeds length limit: %d / %d", fieldName, len(str), limit)
	}
	return nil
}

func checkRequestField(vals map[string]interface{}, key string, lengthLimit int) (string, bool, error) {
	val, ok := vals[key]
	if !ok {
		return "", false, nil
	}

	str, ok := val.(string)
	if !ok {
		return "", false, fmt.Errorf("invalid type of '%s' field", key)
	}

	if err := checkLengthLimit(str, key, lengthLimit); err != nil {
		return "", false, err
	}

	return str, true, nil
}
