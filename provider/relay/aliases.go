package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	maskmail "github.com/maskmail/go-maskmail"
)

type wireAlias struct {
	ID             string `json:"id"`
	Address        string `json:"address"`
	Label          string `json:"label"`
	Note           string `json:"note"`
	RecipientEmail string `json:"recipientEmail"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"createdAt"`
}

func (w wireAlias) toAlias() maskmail.Alias {
	created, _ := time.Parse(time.RFC3339, w.CreatedAt)
	return maskmail.Alias{
		ID:             w.ID,
		Address:        w.Address,
		Label:          w.Label,
		Note:           w.Note,
		RecipientEmail: w.RecipientEmail,
		Active:         w.Active,
		CreatedAt:      created,
	}
}

type listAliasesResponse struct {
	Aliases []wireAlias `json:"aliases"`
}

type aliasResponse struct {
	Alias wireAlias `json:"alias"`
}

type reserveAliasRequest struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
	Note    string `json:"note,omitempty"`
}

type aliasIDRequest struct {
	ID string `json:"id"`
}

// ListAliases implements maskmail.AliasAPI.
func (c *Client) ListAliases(ctx context.Context, data maskmail.SessionData) ([]maskmail.Alias, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/aliases", data, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if err := c.aliasStatus("list", resp.StatusCode); err != nil {
		return nil, err
	}

	var body listAliasesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "relay: undecodable alias list")
	}

	aliases := make([]maskmail.Alias, 0, len(body.Aliases))
	for _, w := range body.Aliases {
		aliases = append(aliases, w.toAlias())
	}
	return aliases, nil
}

// GenerateAlias implements maskmail.AliasAPI. The provider picks the address;
// the result is a candidate until reserved.
func (c *Client) GenerateAlias(ctx context.Context, data maskmail.SessionData) (maskmail.Alias, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/aliases/generate", data, struct{}{})
	if err != nil {
		return maskmail.Alias{}, err
	}
	defer drain(resp)

	if err := c.aliasStatus("generate", resp.StatusCode); err != nil {
		return maskmail.Alias{}, err
	}
	return c.decodeAlias(resp, "generate")
}

// ReserveAlias implements maskmail.AliasAPI.
func (c *Client) ReserveAlias(ctx context.Context, data maskmail.SessionData, req maskmail.ReserveAliasRequest) (maskmail.Alias, error) {
	body := reserveAliasRequest{Address: req.Address, Label: req.Label, Note: req.Note}

	resp, err := c.do(ctx, http.MethodPost, "/v1/aliases/reserve", data, body)
	if err != nil {
		return maskmail.Alias{}, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusConflict {
		return maskmail.Alias{}, goerrors.New("relay: alias address already taken", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithMetadata(map[string]any{"address": req.Address})
	}
	if err := c.aliasStatus("reserve", resp.StatusCode); err != nil {
		return maskmail.Alias{}, err
	}
	return c.decodeAlias(resp, "reserve")
}

// DeactivateAlias implements maskmail.AliasAPI.
func (c *Client) DeactivateAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	return c.aliasMutation(ctx, "/v1/aliases/deactivate", "deactivate", data, id)
}

// ReactivateAlias implements maskmail.AliasAPI.
func (c *Client) ReactivateAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	return c.aliasMutation(ctx, "/v1/aliases/reactivate", "reactivate", data, id)
}

// DeleteAlias implements maskmail.AliasAPI.
func (c *Client) DeleteAlias(ctx context.Context, data maskmail.SessionData, id string) error {
	return c.aliasMutation(ctx, "/v1/aliases/delete", "delete", data, id)
}

func (c *Client) aliasMutation(ctx context.Context, path, op string, data maskmail.SessionData, id string) error {
	if id == "" {
		return goerrors.New("relay: alias id is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	resp, err := c.do(ctx, http.MethodPost, path, data, aliasIDRequest{ID: id})
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return goerrors.New("relay: alias not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"id": id})
	}
	return c.aliasStatus(op, resp.StatusCode)
}

// aliasStatus maps shared alias endpoint statuses. 401 means the session
// expired under us, which callers handle the same way as a failed probe.
func (c *Client) aliasStatus(op string, status int) error {
	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusUnauthorized:
		return metaError(maskmail.ErrSessionInvalid, map[string]any{"op": op})
	default:
		return c.unexpectedStatus(op, status)
	}
}

func (c *Client) decodeAlias(resp *http.Response, op string) (maskmail.Alias, error) {
	var body aliasResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return maskmail.Alias{}, goerrors.Wrap(err, goerrors.CategoryInternal, "relay: undecodable alias payload").
			WithMetadata(map[string]any{"op": op})
	}
	return body.Alias.toAlias(), nil
}
