package remotesettings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
	"github.com/mozilla-services/merino/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

// providerID is stamped on every suggestion this leaf produces.
const providerID = "adm"

// nonSponsoredIabCategories lists IAB categories whose suggestions are shown
// without sponsorship labeling.
var nonSponsoredIabCategories = map[string]bool{
	"5 - Education": true,
}

// tunables are the hot-swappable settings of the provider, replaced as a
// unit by Reconfigure.
type tunables struct {
	score             float64
	minQueryLength    int
	acceptsNonEnglish bool
	resyncInterval    time.Duration
}

// Provider answers queries from a keyword index built out of a Remote
// Settings collection, resyncing in the background.
type Provider struct {
	client  *Client
	cfg     atomic.Pointer[tunables]
	snap    atomic.Pointer[snapshot]
	metrics *metrics.Metrics
	logger  *slog.Logger
	stop    chan struct{}
}

// New creates the provider and performs the initial sync. A failed initial
// sync is a setup error; later resync failures keep the previous snapshot.
func New(ctx context.Context, client *Client, node *config.ProviderNode, m *metrics.Metrics) (*Provider, error) {
	p := &Provider{
		client:  client,
		metrics: m,
		logger:  logger.WithComponent("adm-remote-settings"),
		stop:    make(chan struct{}),
	}
	p.cfg.Store(&tunables{
		score:             node.Score(),
		minQueryLength:    node.MinQueryLength(),
		acceptsNonEnglish: node.AcceptsNonEnglish(),
		resyncInterval:    node.ResyncInterval(),
	})
	p.snap.Store(newSnapshot())

	if err := p.Sync(ctx); err != nil {
		return nil, fmt.Errorf("%w: initial sync of %s: %v", errors.ErrSetup, client.Collection(), err)
	}
	go p.resyncLoop()
	return p, nil
}

// Sync fetches records and attachments, builds a fresh keyword index, and
// swaps it in atomically. On failure the previous snapshot stays in place.
func (p *Provider) Sync(ctx context.Context) error {
	start := time.Now()
	p.logger.Info("syncing quicksuggest records", "collection", p.client.Collection())

	snap, err := p.buildSnapshot(ctx)
	if err != nil {
		p.metrics.SyncDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return err
	}

	if len(snap.byKeyword) == 0 {
		// Records may legitimately be deleted upstream; an empty result
		// still replaces the snapshot.
		p.logger.Warn("no suggestion records found on remote settings", "collection", p.client.Collection())
		p.metrics.EmptySyncsTotal.Inc()
	}

	p.snap.Store(snap)
	p.metrics.SyncDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	p.logger.Info("completed syncing quicksuggest records",
		"collection", p.client.Collection(),
		"keywords", len(snap.byKeyword),
		"duration", time.Since(start),
	)
	return nil
}

func (p *Provider) buildSnapshot(ctx context.Context) (*snapshot, error) {
	records, err := p.client.Records(ctx)
	if err != nil {
		return nil, err
	}

	var dataRecords []Record
	iconURLs := make(map[string]string)
	needBase := false
	for _, record := range records {
		switch record.Type {
		case "icon":
			if record.Attachment != nil {
				iconURLs[record.ID] = record.Attachment.Location
				needBase = true
			}
		case "data":
			dataRecords = append(dataRecords, record)
			if record.Attachment != nil {
				needBase = true
			}
		}
	}

	baseURL := ""
	if needBase {
		baseURL, err = p.client.AttachmentBaseURL(ctx)
		if err != nil {
			return nil, err
		}
	}
	for id, location := range iconURLs {
		iconURLs[id] = baseURL + location
	}

	// Download all the suggestion attachments concurrently; inline payloads
	// need no fetch.
	payloads := make([][]AdmSuggestion, len(dataRecords))
	g, gctx := errgroup.WithContext(ctx)
	for i, record := range dataRecords {
		if record.Attachment == nil {
			payloads[i] = record.Suggestions
			continue
		}
		i, record := i, record
		g.Go(func() error {
			var batch []AdmSuggestion
			if err := p.client.FetchAttachment(gctx, baseURL, record.Attachment, &batch); err != nil {
				return err
			}
			payloads[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cfg := p.cfg.Load()
	snap := newSnapshot()
	for _, batch := range payloads {
		for _, adm := range batch {
			if len(adm.Keywords) == 0 {
				p.logger.Warn("suggestion record has no keywords", "suggestion_id", adm.ID)
				continue
			}
			icon := ""
			if adm.Icon.String() != "" {
				var ok bool
				if icon, ok = iconURLs["icon-"+adm.Icon.String()]; !ok {
					p.logger.Warn("suggestion record has no icon", "suggestion_id", adm.ID)
					continue
				}
			}
			score := adm.Score
			if score <= 0 {
				score = cfg.score
			}
			snap.add(suggest.Suggestion{
				BlockID:       adm.ID,
				Title:         adm.Title,
				URL:           adm.URL,
				ImpressionURL: adm.ImpressionURL,
				ClickURL:      adm.ClickURL,
				Provider:      providerID,
				Advertiser:    adm.Advertiser,
				IsSponsored:   !nonSponsoredIabCategories[adm.IabCategory],
				Icon:          icon,
				Score:         score,
			}, adm.Keywords)
		}
	}
	return snap, nil
}

// resyncLoop re-syncs on the configured interval until Close. A failed
// resync logs a warning and leaves the previous snapshot serving.
func (p *Provider) resyncLoop() {
	for {
		select {
		case <-time.After(p.cfg.Load().resyncInterval):
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := resilience.Retry(ctx, "remote-settings-resync", resilience.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 5 * time.Second,
			}, func() error {
				return p.Sync(ctx)
			})
			if err != nil {
				p.logger.Warn("resync failed, keeping previous snapshot",
					"collection", p.client.Collection(),
					"error", err,
				)
			}
			cancel()
		case <-p.stop:
			return
		}
	}
}

// Close stops the background resync.
func (p *Provider) Close() error {
	close(p.stop)
	return nil
}

func (p *Provider) Name() string {
	return providerID
}

func (p *Provider) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	start := time.Now()
	cfg := p.cfg.Load()
	defer func() {
		p.metrics.ProviderDuration.
			WithLabelValues(providerID, strconv.FormatBool(req.AcceptsEnglish)).
			Observe(time.Since(start).Seconds())
	}()

	// The adM data set is English; requests that do not accept English get
	// nothing unless configured otherwise.
	if !req.AcceptsEnglish && !cfg.acceptsNonEnglish {
		return suggest.EmptyResponse(), nil
	}
	query := req.Query
	if len(query) < cfg.minQueryLength {
		return suggest.EmptyResponse(), nil
	}

	indexed, matched, ok := p.snap.Load().lookup(query, cfg.minQueryLength)
	if !ok {
		return suggest.EmptyResponse(), nil
	}

	result := indexed.suggestion
	result.FullKeyword = fullKeyword(query, matched, indexed.keywords)
	return suggest.NewResponse([]suggest.Suggestion{result}), nil
}

func (p *Provider) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	inputs.Add([]byte(req.Query))
	if req.AcceptsEnglish {
		inputs.Add([]byte{1})
	} else {
		inputs.Add([]byte{0})
	}
}

func (p *Provider) IsComplete() bool {
	return true
}

func (p *Provider) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeRemoteSettings {
		return fmt.Errorf("remote settings provider cannot apply %q config", node.Type)
	}
	p.cfg.Store(&tunables{
		score:             node.Score(),
		minQueryLength:    node.MinQueryLength(),
		acceptsNonEnglish: node.AcceptsNonEnglish(),
		resyncInterval:    node.ResyncInterval(),
	})
	return nil
}
