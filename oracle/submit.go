package oracle

import (
	"context"

	"github.com/guildnet/gnoracle"
	"github.com/guildnet/gnoracle/ledger"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// nonceRetries is how often a batch is re-signed when the ledger refuses
// its nonce.
const nonceRetries = 3

// submitter sends the batches one at a time until the channel is closed.
func (s *Service) submitter(ctx context.Context, batches <-chan *batch) {
	for b := range batches {
		err := s.submit(ctx, b)
		if err != nil {
			log.Errorf("Failed to send oracle answers of block %d: %v", b.height, err)
		}
		if s.submitted != nil {
			s.submitted(b, err)
		}
	}
}

// submit signs the batch with the current nonce and sends it. Answers the
// ledger rejects as expired or unknown are closed, other rejections are
// logged.
func (s *Service) submit(ctx context.Context, b *batch) error {
	var err error
	for try := 0; try < nonceRetries; try++ {
		var nonce uint64
		nonce, err = s.ledger.Nonce(ctx, s.Account())
		if err != nil {
			return gnoracle.ErrorOrNil(xerrors.Errorf("nonce: %w", err), "submitting batch "+b.id)
		}
		var signed *ledger.Batch
		signed, err = s.signer.SignBatch(nonce, b.answers)
		if err != nil {
			return err
		}
		err = s.ledger.SubmitAnswers(ctx, signed)
		if !xerrors.Is(err, ledger.ErrBadNonce) {
			break
		}
		log.Lvl2("Nonce", nonce, "refused, retrying")
	}

	rejected := make(map[ledger.RequestID]ledger.Rejection)
	var be *ledger.BatchError
	if xerrors.As(err, &be) {
		for _, r := range be.Rejected {
			rejected[r.RequestID] = r
		}
	} else if err != nil {
		return gnoracle.ErrorOrNil(err, "submitting batch "+b.id)
	}

	recs := make([]Record, 0, len(b.answers))
	for _, a := range b.answers {
		rec := Record{RequestID: uint64(a.RequestID), Result: a.Result, BatchID: b.id, Height: b.height}
		r, ok := rejected[a.RequestID]
		switch {
		case !ok:
			rec.State = Answered
		case xerrors.Is(r.Err(), ledger.ErrRequestExpired), xerrors.Is(r.Err(), ledger.ErrUnknownRequest):
			log.Warnf("Answer %d refused: %v", a.RequestID, r.Err())
			rec.State = Expired
		default:
			log.Errorf("Answer %d refused: %v", a.RequestID, r.Err())
			continue
		}
		recs = append(recs, rec)
	}
	s.record(recs...)
	log.Lvlf2("Batch %s of block %d: %d answers, %d refused", b.id, b.height, len(b.answers), len(rejected))
	return nil
}
