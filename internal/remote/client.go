// Package remote is the HTTP/JSON client for the cloud document store that
// holds the reminder sources (medicines, consultations, vaccines, recipes).
// It provides a [Client] with per-collection CRUD and owner-scoped listing,
// plus a small retry helper for transient network failures.
//
// The store exposes one collection per source kind under /v1/, documents
// addressed by id, and server-side owner filtering via the `owner` query
// parameter. Ids are generated client-side so creates are idempotent PUTs.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lembremed/lembremed/internal/model"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("remote: document not found")

// collection returns the store collection name for a source kind.
func collection(kind model.SourceKind) string {
	switch kind {
	case model.SourceMedicine:
		return "medicines"
	case model.SourceConsultation:
		return "consultations"
	case model.SourceVaccine:
		return "vaccines"
	default:
		return "recipes"
	}
}

// Client talks to the remote document store.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the store at baseURL, authenticating every
// request with the given bearer token.
func NewClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("remote URL %q must be a valid http or https URL", baseURL)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}, nil
}

// Ping verifies connectivity and authentication.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil, nil)
}

// --- listing -----------------------------------------------------------------

// Medicines returns all of the owner's medicines.
func (c *Client) Medicines(ctx context.Context, owner string) ([]*model.Medicine, error) {
	var out []*model.Medicine
	if err := c.list(ctx, model.SourceMedicine, owner, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Consultations returns all of the owner's consultations.
func (c *Client) Consultations(ctx context.Context, owner string) ([]*model.Consultation, error) {
	var out []*model.Consultation
	if err := c.list(ctx, model.SourceConsultation, owner, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Vaccines returns all of the owner's vaccines.
func (c *Client) Vaccines(ctx context.Context, owner string) ([]*model.Vaccine, error) {
	var out []*model.Vaccine
	if err := c.list(ctx, model.SourceVaccine, owner, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recipes returns all of the owner's recipes.
func (c *Client) Recipes(ctx context.Context, owner string) ([]*model.Recipe, error) {
	var out []*model.Recipe
	if err := c.list(ctx, model.SourceRecipe, owner, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, kind model.SourceKind, owner string, out any) error {
	path := "/v1/" + collection(kind)
	query := url.Values{"owner": {owner}}
	return retry(ctx, defaultMaxAttempts, func() error {
		return c.do(ctx, http.MethodGet, path, query, nil, out)
	})
}

// --- single documents --------------------------------------------------------

// Medicine returns the medicine with the given id, or (nil, nil) if it no
// longer exists.
func (c *Client) Medicine(ctx context.Context, id string) (*model.Medicine, error) {
	var med model.Medicine
	var notFound bool
	err := retry(ctx, defaultMaxAttempts, func() error {
		err := c.do(ctx, http.MethodGet, "/v1/medicines/"+url.PathEscape(id), nil, nil, &med)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil // absence is an answer, not a transient failure
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return &med, nil
}

// CreateMedicine stores a new medicine, generating its id when blank, and
// returns the id.
func (c *Client) CreateMedicine(ctx context.Context, med *model.Medicine) (string, error) {
	if med.ID == "" {
		med.ID = uuid.NewString()
	}
	return med.ID, c.put(ctx, model.SourceMedicine, med.ID, med)
}

// CreateConsultation stores a new consultation and returns its id.
func (c *Client) CreateConsultation(ctx context.Context, con *model.Consultation) (string, error) {
	if con.ID == "" {
		con.ID = uuid.NewString()
	}
	return con.ID, c.put(ctx, model.SourceConsultation, con.ID, con)
}

// CreateVaccine stores a new vaccine and returns its id.
func (c *Client) CreateVaccine(ctx context.Context, vac *model.Vaccine) (string, error) {
	if vac.ID == "" {
		vac.ID = uuid.NewString()
	}
	return vac.ID, c.put(ctx, model.SourceVaccine, vac.ID, vac)
}

// CreateRecipe stores a new recipe and returns its id.
func (c *Client) CreateRecipe(ctx context.Context, rec *model.Recipe) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec.ID, c.put(ctx, model.SourceRecipe, rec.ID, rec)
}

// UpdateMedicineStock sets the medicine's tracked stock quantity.
func (c *Client) UpdateMedicineStock(ctx context.Context, id string, stock float64) error {
	return c.patch(ctx, model.SourceMedicine, id, map[string]any{"stock": stock})
}

// ConfirmSource records a user confirmation on the source: attendance for a
// consultation, application for a vaccine, renewal (deactivation) for a
// recipe. Medicines have no confirmation state.
func (c *Client) ConfirmSource(ctx context.Context, kind model.SourceKind, id string) error {
	var fields map[string]any
	switch kind {
	case model.SourceConsultation:
		fields = map[string]any{"attended": true}
	case model.SourceVaccine:
		fields = map[string]any{"applied": true}
	case model.SourceRecipe:
		fields = map[string]any{"active": false}
	default:
		return fmt.Errorf("source kind %q has no confirmation state", kind)
	}
	return c.patch(ctx, kind, id, fields)
}

// Delete removes the document with the given id from its collection.
// Deleting an absent document is a no-op.
func (c *Client) Delete(ctx context.Context, kind model.SourceKind, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/"+collection(kind)+"/"+url.PathEscape(id), nil, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// --- plumbing ----------------------------------------------------------------

func (c *Client) put(ctx context.Context, kind model.SourceKind, id string, doc any) error {
	return c.do(ctx, http.MethodPut, "/v1/"+collection(kind)+"/"+url.PathEscape(id), nil, doc, nil)
}

func (c *Client) patch(ctx context.Context, kind model.SourceKind, id string, fields map[string]any) error {
	var notFound error
	err := retry(ctx, defaultMaxAttempts, func() error {
		err := c.do(ctx, http.MethodPatch, "/v1/"+collection(kind)+"/"+url.PathEscape(id), nil, fields, nil)
		if errors.Is(err, ErrNotFound) {
			notFound = err
			return nil // retrying won't create the document
		}
		return err
	})
	if err != nil {
		return err
	}
	return notFound
}

// do performs one HTTP round trip: optional JSON request body, optional JSON
// response decoding into out. 404 maps to ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 300:
		// Read a little of the body for diagnostics; servers put the reason there.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}
