package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// archivePageSize is the number of settled markets read per query.
	archivePageSize = 100

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 << 20
)

// archiveRecord is one JSONL line. The first line of every object carries
// the market, every following line one bet.
type archiveRecord struct {
	Kind   string         `json:"kind"`
	Market *domain.Market `json:"market,omitempty"`
	Bet    *domain.Bet    `json:"bet,omitempty"`
}

// Archiver exports settled markets and their bets to object storage, one
// JSONL object per market at archive/markets/YYYY-MM/market-<id>.jsonl
// (partitioned by settlement month). Markets whose object already exists
// are skipped, so repeated runs only upload what is new. Nothing is deleted
// from the journal.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  domain.SettledMarketStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	store domain.SettledMarketStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled uploads every market settled before the cutoff that is not
// archived yet and returns how many markets were uploaded.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	var uploaded, skipped int64
	for offset := 0; ; offset += archivePageSize {
		markets, err := a.store.ListSettledBefore(ctx, before, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive: list settled: %w", err)
		}
		for _, m := range markets {
			done, err := a.archiveMarket(ctx, m)
			if err != nil {
				return uploaded, err
			}
			if done {
				uploaded++
			} else {
				skipped++
			}
		}
		if len(markets) < archivePageSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("uploaded", uploaded),
		slog.Int64("skipped", skipped),
		slog.Time("before", before),
	)
	if uploaded > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.markets", map[string]any{
			"count":  uploaded,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return uploaded, fmt.Errorf("s3blob: archive: audit log: %w", err)
		}
	}
	return uploaded, nil
}

func (a *Archiver) archiveMarket(ctx context.Context, m domain.Market) (bool, error) {
	path := MarketPath(m)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d: %w", m.ID, err)
	}
	if exists {
		return false, nil
	}

	bets, err := a.store.ListBetsByMarket(ctx, m.ID)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d: list bets: %w", m.ID, err)
	}
	buf, err := marshalMarket(m, bets)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d: %w", m.ID, err)
	}

	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, buf, jsonlContentType)
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d: %w", m.ID, err)
	}

	a.logger.DebugContext(ctx, "archiver: market uploaded",
		slog.Int64("market_id", m.ID),
		slog.String("path", path),
		slog.Int("bets", len(bets)),
	)
	return true, nil
}

// MarketPath returns the object key a settled market is archived under.
func MarketPath(m domain.Market) string {
	settled := m.CreatedAt
	if m.SettledAt != nil {
		settled = *m.SettledAt
	}
	return fmt.Sprintf("archive/markets/%s/market-%d.jsonl", settled.UTC().Format("2006-01"), m.ID)
}

func marshalMarket(m domain.Market, bets []domain.Bet) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveRecord{Kind: "market", Market: &m}); err != nil {
		return nil, fmt.Errorf("jsonl encode market: %w", err)
	}
	for i := range bets {
		if err := enc.Encode(archiveRecord{Kind: "bet", Bet: &bets[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode bet %d: %w", bets[i].ID, err)
		}
	}
	return &buf, nil
}

var _ domain.Archiver = (*Archiver)(nil)
