package supabase

import (
	"fmt"
	"time"

	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

type analysisRow struct {
	FileHash  string               `json:"file_hash"`
	Analysis  domain.AudioAnalysis `json:"analysis"`
	CreatedAt string               `json:"created_at,omitempty"`
	ExpiresAt string               `json:"expires_at,omitempty"`
}

// AnalysisRepo is the durable half of the content-addressed audio analysis
// cache. Expiry is enforced by callers on read and by PurgeExpired.
type AnalysisRepo struct{ Client *supa.Client }

func NewAnalysisRepo(c *supa.Client) *AnalysisRepo { return &AnalysisRepo{Client: c} }

// Get loads the cached analysis for a file hash.
func (r *AnalysisRepo) Get(ctx domain.Context, fileHash string) (domain.AnalysisCacheEntry, error) {
	tracer := otel.Tracer("repo.analysis")
	_, span := tracer.Start(ctx, "analysis.Get")
	defer span.End()

	var rows []analysisRow
	_, err := r.Client.From(tableAnalysis).
		Select("*", "", false).
		Eq("file_hash", fileHash).
		ExecuteTo(&rows)
	if err != nil {
		return domain.AnalysisCacheEntry{}, wrapErr("analysis.get", err)
	}
	if len(rows) == 0 {
		return domain.AnalysisCacheEntry{}, fmt.Errorf("op=analysis.get: %w", domain.ErrNotFound)
	}
	row := rows[0]
	return domain.AnalysisCacheEntry{
		FileHash:  row.FileHash,
		Analysis:  row.Analysis,
		CreatedAt: parseTime(row.CreatedAt),
		ExpiresAt: parseTime(row.ExpiresAt),
	}, nil
}

// Upsert stores or refreshes the cached analysis for a file hash.
func (r *AnalysisRepo) Upsert(ctx domain.Context, e domain.AnalysisCacheEntry) error {
	tracer := otel.Tracer("repo.analysis")
	_, span := tracer.Start(ctx, "analysis.Upsert")
	defer span.End()

	row := analysisRow{
		FileHash:  e.FileHash,
		Analysis:  e.Analysis,
		CreatedAt: formatTime(e.CreatedAt),
		ExpiresAt: formatTime(e.ExpiresAt),
	}
	_, _, err := r.Client.From(tableAnalysis).Upsert(row, "file_hash", "", "").Execute()
	if err != nil {
		return wrapErr("analysis.upsert", err)
	}
	return nil
}

// PurgeExpired deletes entries whose expiry is behind now and returns the
// number removed.
func (r *AnalysisRepo) PurgeExpired(ctx domain.Context, now time.Time) (int64, error) {
	tracer := otel.Tracer("repo.analysis")
	_, span := tracer.Start(ctx, "analysis.PurgeExpired")
	defer span.End()

	_, count, err := r.Client.From(tableAnalysis).
		Delete("", "exact").
		Lt("expires_at", formatTime(now)).
		Execute()
	if err != nil {
		return 0, wrapErr("analysis.purge_expired", err)
	}
	return count, nil
}
