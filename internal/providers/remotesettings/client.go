// Package remotesettings implements the suggestion leaf backed by a Remote
// Settings collection: a sync protocol that builds an immutable keyword
// index, a periodic background resync, and the query-time full-keyword
// expansion the browser's client-side matcher agrees with.
package remotesettings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mozilla-services/merino/pkg/errors"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/resilience"
)

// Record is one entry of a Remote Settings collection. Only the fields the
// suggester needs are modeled. Signature verification is the transport
// client's concern and has happened before records reach this type.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Deleted bool   `json:"deleted,omitempty"`

	// Attachment points at the payload for records whose body is too large
	// to inline.
	Attachment *AttachmentMeta `json:"attachment,omitempty"`

	// Suggestions carries inline suggestion payloads on records without an
	// attachment.
	Suggestions []AdmSuggestion `json:"suggestions,omitempty"`
}

// AttachmentMeta describes where a record's attachment can be downloaded,
// relative to the server's attachment base URL.
type AttachmentMeta struct {
	Location string `json:"location"`
	Hash     string `json:"hash,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// AdmSuggestion is a suggestion payload from the quicksuggest collection.
type AdmSuggestion struct {
	ID            int32       `json:"id"`
	URL           string      `json:"url"`
	ClickURL      string      `json:"click_url"`
	ImpressionURL string      `json:"impression_url"`
	IabCategory   string      `json:"iab_category"`
	Icon          json.Number `json:"icon,omitempty"`
	Advertiser    string      `json:"advertiser"`
	Title         string      `json:"title"`
	Keywords      []string    `json:"keywords"`
	Score         float64     `json:"score,omitempty"`
}

// Client talks to a Remote Settings server. It is shared across providers
// and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	server     string
	bucket     string
	collection string
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger

	mu             sync.Mutex
	attachmentBase string
}

// NewClient creates a Client for one bucket/collection pair.
func NewClient(httpClient *http.Client, server, bucket, collection string, breaker *resilience.CircuitBreaker) *Client {
	return &Client{
		httpClient: httpClient,
		server:     server,
		bucket:     bucket,
		collection: collection,
		breaker:    breaker,
		logger:     logger.WithComponent("remote-settings-client"),
	}
}

// Collection identifies the synced collection for logs and error messages.
func (c *Client) Collection() string {
	return fmt.Sprintf("%s/%s", c.bucket, c.collection)
}

// Records fetches the collection's records, dropping tombstones.
func (c *Client) Records(ctx context.Context) ([]Record, error) {
	url := fmt.Sprintf("%s/buckets/%s/collections/%s/records", c.server, c.bucket, c.collection)

	var envelope struct {
		Data []Record `json:"data"`
	}
	if err := c.getJSON(ctx, url, &envelope); err != nil {
		return nil, fmt.Errorf("%w: fetching records for %s: %v", errors.ErrUpstream, c.Collection(), err)
	}

	records := envelope.Data[:0]
	for _, record := range envelope.Data {
		if !record.Deleted {
			records = append(records, record)
		}
	}
	return records, nil
}

// AttachmentBaseURL returns the base URL attachments are served from,
// resolved from the server's capabilities document and cached.
func (c *Client) AttachmentBaseURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachmentBase != "" {
		return c.attachmentBase, nil
	}

	var serverInfo struct {
		Capabilities struct {
			Attachments *struct {
				BaseURL string `json:"base_url"`
			} `json:"attachments"`
		} `json:"capabilities"`
	}
	if err := c.getJSON(ctx, c.server+"/", &serverInfo); err != nil {
		return "", fmt.Errorf("%w: fetching server info: %v", errors.ErrUpstream, err)
	}
	if serverInfo.Capabilities.Attachments == nil {
		return "", fmt.Errorf("%w: server does not support attachments", errors.ErrMisconfigured)
	}

	c.attachmentBase = serverInfo.Capabilities.Attachments.BaseURL
	return c.attachmentBase, nil
}

// FetchAttachment downloads an attachment and decodes its JSON body into v.
func (c *Client) FetchAttachment(ctx context.Context, baseURL string, meta *AttachmentMeta, v any) error {
	if err := c.getJSON(ctx, baseURL+meta.Location, v); err != nil {
		return fmt.Errorf("%w: fetching attachment %s: %v", errors.ErrUpstream, meta.Location, err)
	}
	return nil
}

// getJSON performs a GET through the circuit breaker and decodes the body.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("requesting %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("requesting %s: unexpected status %d", url, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decoding %s: %w", url, err)
		}
		return nil
	})
}
