package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/gabapcia/utxosync/internal/eventcache"
	"github.com/gabapcia/utxosync/internal/ledgersync"
	"github.com/gabapcia/utxosync/internal/pkg/x/chflow"
	"github.com/gabapcia/utxosync/internal/utxoledger"
)

type (
	// EventResponse represents a raw ledger event returned by the indexer API.
	EventResponse struct {
		ID          uint64          `json:"id"`
		MaxID       uint64          `json:"maxId"`
		Payload     json.RawMessage `json:"payload"`
		BlockHeight uint64          `json:"blockHeight"`
		BlockHash   string          `json:"blockHash"`
		ParentHash  string          `json:"parentHash"`
		Timestamp   time.Time       `json:"timestamp"`
	}

	// OutputResponse represents a transaction output returned by the indexer API.
	// Value is a base-10 string so arbitrarily large amounts survive transport.
	OutputResponse struct {
		IntentHash  string    `json:"intentHash"`
		OutputIndex uint32    `json:"outputIndex"`
		Owner       string    `json:"owner"`
		TokenType   string    `json:"tokenType"`
		Value       string    `json:"value"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	// InputResponse references an output consumed by a transaction.
	InputResponse struct {
		IntentHash  string `json:"intentHash"`
		OutputIndex uint32 `json:"outputIndex"`
	}

	// OutcomeResponse represents a decoded transaction outcome returned by the
	// indexer API for a subscribed address.
	OutcomeResponse struct {
		TransactionID   uint64           `json:"transactionId"`
		TransactionHash string           `json:"transactionHash"`
		Status          string           `json:"status"`
		Created         []OutputResponse `json:"created"`
		Spent           []InputResponse  `json:"spent"`
		BlockHeight     uint64           `json:"blockHeight"`
	}

	// ProgressResponse represents a pure progress advancement returned by the
	// indexer API when a scanned range contained nothing for the address.
	ProgressResponse struct {
		HighestEventID       uint64 `json:"highestEventId"`
		MaxEventID           uint64 `json:"maxEventId"`
		HighestTransactionID uint64 `json:"highestTransactionId"`
	}

	// FeedItemResponse is one item of the address feed. Type selects which of
	// the optional fields is populated.
	FeedItemResponse struct {
		Type     string            `json:"type"` // "event", "outcome", or "progress"
		EventID  uint64            `json:"eventId"`
		Event    *EventResponse    `json:"event,omitempty"`
		Outcome  *OutcomeResponse  `json:"outcome,omitempty"`
		Progress *ProgressResponse `json:"progress,omitempty"`
	}

	// EventsResponse is the envelope of the ranged events endpoint.
	EventsResponse struct {
		Events []EventResponse `json:"events"`
	}

	// FeedResponse is the envelope of the address feed endpoint.
	FeedResponse struct {
		Items []FeedItemResponse `json:"items"`
	}
)

// toRawEvent converts the API representation into an eventcache.RawEvent.
func (r EventResponse) toRawEvent() eventcache.RawEvent {
	return eventcache.RawEvent{
		ID:          r.ID,
		MaxID:       r.MaxID,
		Raw:         []byte(r.Payload),
		BlockHeight: r.BlockHeight,
		BlockHash:   r.BlockHash,
		ParentHash:  r.ParentHash,
		Timestamp:   r.Timestamp,
	}
}

// toTransactionOutcome converts the API representation into a
// utxoledger.TransactionOutcome, validating the status and amount encodings.
func (r OutcomeResponse) toTransactionOutcome() (utxoledger.TransactionOutcome, error) {
	status, err := parseOutcomeStatus(r.Status)
	if err != nil {
		return utxoledger.TransactionOutcome{}, err
	}

	created := make([]utxoledger.Utxo, 0, len(r.Created))
	for _, out := range r.Created {
		value, ok := new(big.Int).SetString(out.Value, 10)
		if !ok {
			return utxoledger.TransactionOutcome{}, fmt.Errorf("invalid output value %q on transaction %q", out.Value, r.TransactionHash)
		}

		created = append(created, utxoledger.Utxo{
			IntentHash:      out.IntentHash,
			OutputIndex:     out.OutputIndex,
			Owner:           out.Owner,
			TokenType:       out.TokenType,
			Value:           value,
			CreatedAt:       out.CreatedAt,
			State:           utxoledger.StateAvailable,
			CreatedAtHeight: r.BlockHeight,
		})
	}

	spent := make([]utxoledger.UtxoRef, 0, len(r.Spent))
	for _, in := range r.Spent {
		spent = append(spent, utxoledger.UtxoRef{
			IntentHash:  in.IntentHash,
			OutputIndex: in.OutputIndex,
		})
	}

	return utxoledger.TransactionOutcome{
		TransactionID:   r.TransactionID,
		TransactionHash: r.TransactionHash,
		Status:          status,
		Created:         created,
		Spent:           spent,
		BlockHeight:     r.BlockHeight,
	}, nil
}

// toProgressMarker converts the API representation into a
// ledgersync.ProgressMarker.
func (r ProgressResponse) toProgressMarker() ledgersync.ProgressMarker {
	return ledgersync.ProgressMarker{
		HighestEventID:       r.HighestEventID,
		MaxEventID:           r.MaxEventID,
		HighestTransactionID: r.HighestTransactionID,
	}
}

// parseOutcomeStatus maps the wire status name onto the closed OutcomeStatus
// set, rejecting unknown values.
func parseOutcomeStatus(s string) (utxoledger.OutcomeStatus, error) {
	switch s {
	case "SUCCESS":
		return utxoledger.StatusSuccess, nil
	case "PARTIAL_SUCCESS":
		return utxoledger.StatusPartialSuccess, nil
	case "FAILURE":
		return utxoledger.StatusFailure, nil
	default:
		return 0, fmt.Errorf("unknown transaction status %q", s)
	}
}

// getJSON performs a GET request against the indexer and decodes the JSON
// response body into out. Non-2xx responses are reported as *StatusError.
func (c *client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}

	res, err := c.conn.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, res.Body)
		return &StatusError{Code: res.StatusCode}
	}

	return json.NewDecoder(res.Body).Decode(out)
}

// GetEventsInRange implements the ledgersync.EventFeed interface.
// It returns the raw events with fromID <= id <= toID in ascending id order.
func (c *client) GetEventsInRange(ctx context.Context, fromID, toID uint64) ([]eventcache.RawEvent, error) {
	endpoint := fmt.Sprintf("/v1/events?from=%d&to=%d", fromID, toID)

	var res EventsResponse
	if err := c.getJSON(ctx, endpoint, &res); err != nil {
		return nil, err
	}

	events := make([]eventcache.RawEvent, 0, len(res.Events))
	for _, event := range res.Events {
		events = append(events, event.toRawEvent())
	}

	return events, nil
}

// pollFeed fetches all feed items for the address published after afterID and
// emits them to eventsCh. If the request fails, a FeedEvent containing the
// error is sent and afterID is returned unchanged. Every send honors ctx, so
// a canceled subscription never leaves the poller blocked on a full channel.
//
// This function does not include internal delays or throttling and should be
// invoked periodically by a higher-level loop (e.g., inside Subscribe).
//
// Returns the event id to resume from on the next polling iteration.
func (c *client) pollFeed(ctx context.Context, address string, afterID uint64, eventsCh chan<- ledgersync.FeedEvent) uint64 {
	endpoint := fmt.Sprintf("/v1/addresses/%s/feed?after=%d", url.PathEscape(address), afterID)

	var res FeedResponse
	if err := c.getJSON(ctx, endpoint, &res); err != nil {
		chflow.Send(ctx, eventsCh, ledgersync.FeedEvent{Err: err})
		return afterID
	}

	for _, item := range res.Items {
		feedEvent, err := item.toFeedEvent()
		if err != nil {
			chflow.Send(ctx, eventsCh, ledgersync.FeedEvent{Err: err})
			return afterID
		}

		if !chflow.Send(ctx, eventsCh, feedEvent) {
			return afterID
		}

		if item.EventID > afterID {
			afterID = item.EventID
		}
	}

	return afterID
}

// toFeedEvent converts one feed item into a ledgersync.FeedEvent, rejecting
// items whose type tag does not match their payload.
func (r FeedItemResponse) toFeedEvent() (ledgersync.FeedEvent, error) {
	switch {
	case r.Type == "event" && r.Event != nil:
		event := r.Event.toRawEvent()
		return ledgersync.FeedEvent{Event: &event}, nil
	case r.Type == "outcome" && r.Outcome != nil:
		outcome, err := r.Outcome.toTransactionOutcome()
		if err != nil {
			return ledgersync.FeedEvent{}, err
		}
		return ledgersync.FeedEvent{Outcome: &outcome}, nil
	case r.Type == "progress" && r.Progress != nil:
		progress := r.Progress.toProgressMarker()
		return ledgersync.FeedEvent{Progress: &progress}, nil
	default:
		return ledgersync.FeedEvent{}, fmt.Errorf("malformed feed item of type %q", r.Type)
	}
}

// Subscribe implements the ledgersync.EventFeed interface.
// It starts polling the indexer for feed items published after fromID and
// emits them as FeedEvent values. The returned channel is closed when the
// context is canceled.
func (c *client) Subscribe(ctx context.Context, address string, fromID uint64) (<-chan ledgersync.FeedEvent, error) {
	eventsCh := make(chan ledgersync.FeedEvent, averageNumberOfItemsPerPoll)
	go func() {
		defer close(eventsCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval):
				fromID = c.pollFeed(ctx, address, fromID, eventsCh)
			}
		}
	}()

	return eventsCh, nil
}
