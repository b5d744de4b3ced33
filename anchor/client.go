package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voting-core/models"
)

// Client anchors vote records on a Ledger and reads them back.
type Client struct {
	ledger Ledger
	log    zerolog.Logger
}

func NewClient(ledger Ledger, logger zerolog.Logger) *Client {
	return &Client{
		ledger: ledger,
		log:    logger.With().Str("component", "anchor").Logger(),
	}
}

// Commit submits rec. Transport failures wrap ErrAnchorUnavailable and an
// expired ctx wraps ErrAnchorTimeout.
func (c *Client) Commit(ctx context.Context, rec *models.VoteRecord) (models.AnchorHandle, error) {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}

	handle, err := c.ledger.Commit(ctx, payload)
	if err != nil {
		err = classify(ctx, err)
		c.log.Warn().Err(err).Str("election", rec.ElectionID).Msg("commit failed")
		return nil, err
	}

	c.log.Debug().Str("handle", handle.String()).Msg("payload committed")
	return handle, nil
}

func (c *Client) Confirm(ctx context.Context, handle models.AnchorHandle) (Status, error) {
	status, err := c.ledger.Confirm(ctx, handle)
	if err != nil {
		return StatusPending, classify(ctx, err)
	}
	return status, nil
}

// AwaitConfirmation polls Confirm every poll interval until the handle is
// committed or failed. It gives up with ErrAnchorTimeout after timeout.
func (c *Client) AwaitConfirmation(ctx context.Context, handle models.AnchorHandle, timeout, poll time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		status, err := c.Confirm(ctx, handle)
		switch {
		case err != nil && !errors.Is(err, ErrAnchorUnavailable):
			return status, err
		case err != nil:
			c.log.Debug().Err(err).Str("handle", handle.String()).Msg("confirm attempt failed, retrying")
		case status == StatusCommitted:
			return status, nil
		case status == StatusFailed:
			return status, fmt.Errorf("%w: handle %s", ErrLedgerFailed, handle)
		}

		select {
		case <-ctx.Done():
			return StatusPending, fmt.Errorf("%w: handle %s still pending after %s", ErrAnchorTimeout, handle, timeout)
		case <-ticker.C:
		}
	}
}

// ScanElection decodes every committed record of electionID, in ledger
// order. Payloads that are not vote envelopes are skipped.
func (c *Client) ScanElection(ctx context.Context, electionID string, fn func(*models.VoteRecord, Entry) error) error {
	var fnErr error
	err := c.ledger.Scan(ctx, func(entry Entry) error {
		rec, err := DecodeRecord(entry.Payload)
		if err != nil {
			c.log.Debug().Err(err).Str("handle", entry.Handle.String()).Msg("skipping foreign payload")
			return nil
		}
		if rec.ElectionID != electionID {
			return nil
		}

		rec.AnchorHandle = entry.Handle
		rec.ConfirmedAt = entry.Time
		fnErr = fn(rec, entry)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return classify(ctx, err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrAnchorTimeout), errors.Is(err, ErrAnchorUnavailable),
		errors.Is(err, ErrLedgerFailed), errors.Is(err, ErrInvalidEnvelope):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrAnchorTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrAnchorUnavailable, err)
	}
}
