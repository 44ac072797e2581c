package feed

import (
	"context"

	"github.com/rs/zerolog"

	"fundwatch/internal/logging"
	"fundwatch/internal/models"
)

// Reconciler merges both sources into one InstrumentSnapshot.
type Reconciler struct {
	quotes        QuoteSource
	confirmations ConfirmationSource
	logger        zerolog.Logger
}

// NewReconciler creates a Reconciler. confirmations may be nil.
func NewReconciler(quotes QuoteSource, confirmations ConfirmationSource, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		quotes:        quotes,
		confirmations: confirmations,
		logger:        logging.WithComponent(logger, "reconciler"),
	}
}

// Snapshot fetches code from both sources and merges the results. It never
// fails: a source error leaves that source's fields unset, and an
// instrument both sources failed on yields an empty snapshot.
func (r *Reconciler) Snapshot(ctx context.Context, code string) models.InstrumentSnapshot {
	log := logging.WithInstrument(r.logger, code)

	quote, err := r.quotes.FetchQuote(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("Quote fetch failed")
		quote = nil
	}

	var confirmation *models.Confirmation
	if r.confirmations != nil {
		confirmation, err = r.confirmations.FetchConfirmation(ctx, code)
		if err != nil {
			log.Debug().Err(err).Msg("Confirmation fetch failed")
			confirmation = nil
		}
	}

	return Merge(code, quote, confirmation)
}

// Merge combines a quote and a confirmation. The confirmation's date
// replaces the quote's when it is present and not older (dates are
// YYYY-MM-DD so string order is date order); its value replaces the
// quote's only when present. Either argument may be nil.
func Merge(code string, quote *models.Quote, confirmation *models.Confirmation) models.InstrumentSnapshot {
	snap := models.InstrumentSnapshot{Code: code}

	if quote != nil {
		snap.Name = quote.Name
		snap.EstimatedChangePercent = quote.EstimatedChangePercent
		snap.EstimatedValue = quote.EstimatedValue
		snap.ConfirmedValue = quote.ConfirmedValue
		snap.ConfirmedValueDate = quote.ConfirmedValueDate
		snap.EstimateTimestamp = quote.EstimateTimestamp
	}

	if confirmation != nil && confirmation.ConfirmedValueDate != "" &&
		(snap.ConfirmedValueDate == "" || confirmation.ConfirmedValueDate >= snap.ConfirmedValueDate) {
		if confirmation.ConfirmedValue != nil {
			snap.ConfirmedValue = confirmation.ConfirmedValue
		}
		snap.ConfirmedValueDate = confirmation.ConfirmedValueDate
	}

	return snap
}
