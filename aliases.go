package maskmail

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// Alias is one masked address managed on behalf of the account.
type Alias struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	Label          string    `json:"label,omitempty"`
	Note           string    `json:"note,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// ReserveAliasRequest claims a previously generated candidate address.
type ReserveAliasRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
	Note    string `json:"note,omitempty"`
}

// Validate will run validation rules
func (r ReserveAliasRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, validation.Required, is.Email),
		validation.Field(&r.Label, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Note, validation.Length(0, 2000)),
	)
}

// AliasService exposes the alias management RPCs behind the authentication
// gate. These are ordinary request/response calls once a session is verified;
// anything attempted before that fails fast with ErrNotAuthenticated rather
// than retrying.
type AliasService struct {
	client *Client
	api    AliasAPI
	logger Logger
}

// NewAliasService returns an alias service bound to the client's session.
func NewAliasService(client *Client, api AliasAPI) *AliasService {
	return &AliasService{
		client: client,
		api:    api,
		logger: defLogger{},
	}
}

func (s *AliasService) WithLogger(logger Logger) *AliasService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// List returns every alias on the account.
func (s *AliasService) List(ctx context.Context) ([]Alias, error) {
	var aliases []Alias
	err := s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		var err error
		aliases, err = s.api.ListAliases(ctx, data)
		return err
	})
	return aliases, err
}

// Generate asks the provider for a fresh candidate alias.
func (s *AliasService) Generate(ctx context.Context) (Alias, error) {
	var alias Alias
	err := s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		var err error
		alias, err = s.api.GenerateAlias(ctx, data)
		return err
	})
	return alias, err
}

// Reserve claims a generated candidate with a label and optional note.
func (s *AliasService) Reserve(ctx context.Context, req ReserveAliasRequest) (Alias, error) {
	if err := req.Validate(); err != nil {
		return Alias{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid reserve payload")
	}

	var alias Alias
	err := s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		var err error
		alias, err = s.api.ReserveAlias(ctx, data, req)
		return err
	})
	return alias, err
}

// Deactivate stops forwarding for an alias without deleting it.
func (s *AliasService) Deactivate(ctx context.Context, id string) error {
	return s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		return s.api.DeactivateAlias(ctx, data, id)
	})
}

// Reactivate resumes forwarding for a deactivated alias.
func (s *AliasService) Reactivate(ctx context.Context, id string) error {
	return s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		return s.api.ReactivateAlias(ctx, data, id)
	})
}

// Delete removes an alias permanently.
func (s *AliasService) Delete(ctx context.Context, id string) error {
	return s.client.Do(ctx, func(ctx context.Context, data SessionData) error {
		return s.api.DeleteAlias(ctx, data, id)
	})
}
