// README: Payout gateway; Stripe Connect transfers keyed and grouped by remittance id.
package remittance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"parkangel/internal/types"
)

type TransferRequest struct {
	// IdempotencyKey identifies one transfer attempt; resending it never pays twice.
	IdempotencyKey string
	// TransferGroup is the remittance id shared by every attempt.
	TransferGroup  string
	RecipientID    types.ID
	Destination    string
	Amount         int64
	Currency       string
}

type TransferState string

const (
	TransferConfirmed TransferState = "confirmed"
	TransferRejected  TransferState = "rejected"
	TransferUnknown   TransferState = "unknown"
)

type LookupResult struct {
	State      TransferState
	TransferID string
	Reason     string
}

// Gateway moves money to a recipient. Transfer errors wrapping
// ErrTransferUncertain leave the outcome open for Lookup to settle.
type Gateway interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	Lookup(ctx context.Context, transferGroup string) (LookupResult, error)
}

type StripeGateway struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeGateway builds a gateway on the Stripe API. backends may be nil for
// the public endpoints.
func NewStripeGateway(apiKey string, backends *stripe.Backends, logger *zap.Logger) (*StripeGateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{api: client.New(apiKey, backends), logger: logger}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.TransferGroup),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("recipient_id", string(req.RecipientID))

	t, err := g.api.Transfers.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	g.logger.Info("stripe transfer created",
		zap.String("transfer_id", t.ID),
		zap.String("remittance_id", req.TransferGroup),
		zap.Int64("amount", req.Amount),
	)
	return t.ID, nil
}

// Lookup finds the transfer grouped under the remittance id. No transfer in
// the group is reported as unknown, since Stripe may not have caught up yet.
func (g *StripeGateway) Lookup(ctx context.Context, transferGroup string) (LookupResult, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(transferGroup)}
	params.Context = ctx
	it := g.api.Transfers.List(params)
	for it.Next() {
		t := it.Transfer()
		if t.Reversed {
			return LookupResult{State: TransferRejected, TransferID: t.ID, Reason: "transfer reversed"}, nil
		}
		return LookupResult{State: TransferConfirmed, TransferID: t.ID}, nil
	}
	if err := it.Err(); err != nil {
		return LookupResult{}, fmt.Errorf("stripe: list transfers: %w", err)
	}
	return LookupResult{State: TransferUnknown}, nil
}

// classifyStripeError separates definitive rejections (4xx other than
// conflict and rate limiting) from outcomes that must be reconciled.
func classifyStripeError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		code := serr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusTooManyRequests {
			return fmt.Errorf("stripe: %s", serr.Msg)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransferUncertain, err)
}
