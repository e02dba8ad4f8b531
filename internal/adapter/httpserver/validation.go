package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/usecase"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// listQuery is the parsed form of the jobs-listing query string.
type listQuery struct {
	Status string `validate:"omitempty,oneof=queued processing completed failed"`
	Limit  int    `validate:"min=1,max=50"`
	Offset int    `validate:"min=0"`

	status *domain.JobStatus
}

// parseListQuery reads status/limit/offset with defaults limit=10, offset=0.
// Unknown statuses and out-of-range paging are ErrValidation.
func parseListQuery(r *http.Request) (listQuery, error) {
	q := listQuery{Limit: 10}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("limit must be an integer: %w", domain.ErrValidation)
		}
		q.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("offset must be an integer: %w", domain.ErrValidation)
		}
		q.Offset = n
	}
	q.Status = r.URL.Query().Get("status")

	if err := getValidator().Struct(q); err != nil {
		return q, fmt.Errorf("invalid query: %v: %w", err, domain.ErrValidation)
	}
	if q.Limit > usecase.ListMaxLimit {
		return q, fmt.Errorf("limit must be at most %d: %w", usecase.ListMaxLimit, domain.ErrValidation)
	}
	if q.Status != "" {
		st := domain.JobStatus(q.Status)
		q.status = &st
	}
	return q, nil
}
