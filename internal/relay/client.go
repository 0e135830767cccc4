package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"chorus/internal/domain"
)

// HTTPClient talks to the relay server. It implements both the registry and
// router client interfaces.
type HTTPClient struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the relay at base. A nil httpClient falls
// back to http.DefaultClient.
func NewHTTP(base string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{Base: base, HTTP: httpClient}
}

var (
	_ domain.RegistryClient = (*HTTPClient)(nil)
	_ domain.RouterClient   = (*HTTPClient)(nil)
)

// Upload publishes a credential to the registry.
func (c *HTTPClient) Upload(ctx context.Context, cred domain.PrekeyCredential) error {
	return c.post(ctx, "/credentials", cred, nil)
}

// Reserve asks the registry to hold one of target's credentials.
func (c *HTTPClient) Reserve(ctx context.Context, target, reserver domain.Username) (domain.ReservedCredential, error) {
	var out domain.ReservedCredential
	err := c.post(ctx, "/credentials/"+url.PathEscape(target.String())+"/reserve", struct {
		Reserver domain.Username `json:"reserver"`
	}{Reserver: reserver}, &out)
	if err != nil {
		return domain.ReservedCredential{}, err
	}
	return out, nil
}

// Spend finalizes a reservation.
func (c *HTTPClient) Spend(ctx context.Context, id domain.ReservationID, caller domain.Username) error {
	return c.post(ctx, "/reservations/"+url.PathEscape(id.String())+"/spend", struct {
		Caller domain.Username `json:"caller"`
	}{Caller: caller}, nil)
}

// ListAvailable returns the owner's available credential ids.
func (c *HTTPClient) ListAvailable(ctx context.Context, owner domain.Username) ([]domain.CredentialID, error) {
	var out struct {
		Available []domain.CredentialID `json:"available"`
	}
	if err := c.getJSON(ctx, "/credentials/"+url.PathEscape(owner.String()), &out); err != nil {
		return nil, err
	}
	return out.Available, nil
}

// Send posts an envelope to the router.
func (c *HTTPClient) Send(ctx context.Context, env domain.Envelope) error {
	return c.post(ctx, "/send", env, nil)
}

// Subscribe adds user to the group's broadcast channel.
func (c *HTTPClient) Subscribe(ctx context.Context, group domain.GroupID, user domain.Username) error {
	return c.post(ctx, "/groups/"+url.PathEscape(group.String())+"/subscribe", struct {
		User domain.Username `json:"user"`
	}{User: user}, nil)
}

// Fetch returns up to limit queued envelopes for user.
func (c *HTTPClient) Fetch(ctx context.Context, user domain.Username, limit int) ([]domain.Envelope, error) {
	path := "/inbox/" + url.PathEscape(user.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envs []domain.Envelope
	if err := c.getJSON(ctx, path, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// Ack drops the first count queued envelopes for user.
func (c *HTTPClient) Ack(ctx context.Context, user domain.Username, count int) error {
	return c.post(ctx, "/inbox/"+url.PathEscape(user.String())+"/ack", struct {
		Count int `json:"count"`
	}{Count: count}, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(path, resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError recovers the typed registry error from an error response, so
// callers can match with errors.Is across the HTTP boundary.
func decodeError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	switch e.Error {
	case "pool_exhausted":
		return domain.ErrPoolExhausted
	case "duplicate_credential":
		return domain.ErrDuplicateCredential
	case "invalid_reservation":
		return domain.ErrInvalidReservation
	}
	return fmt.Errorf("relay %s: %s", path, resp.Status)
}
