package constraints

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"entitycore/pkg/domain"
)

// Row is one independent constraint query: a proposed ancestor side, a
// proposed descendant side, or both when validation is requested.
type Row struct {
	Ancestors   []domain.Descriptor `json:"ancestors,omitempty"`
	Descendants []domain.Descriptor `json:"descendants,omitempty"`
}

// Report is the per-row outcome carrying an HTTP-equivalent status code and a
// descriptor (or search filter) payload.
type Report struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description any    `json:"description,omitempty"`
}

// UseCaseSearch requests search-filter rendering instead of descriptor output.
const UseCaseSearch = "search"

// ReportBatch evaluates rows independently: no row short-circuits another and
// result order matches input order.
func (e *Engine) ReportBatch(order Order, rows []Row, match bool, useCase string) ([]Report, error) {
	if len(rows) == 0 {
		return nil, domain.ErrBadRequest{Message: "no constraint rows supplied"}
	}
	reports := make([]Report, len(rows))
	for i, row := range rows {
		reports[i] = e.reportRow(order, row, match, useCase)
	}
	return reports, nil
}

func (e *Engine) reportRow(order Order, row Row, match bool, useCase string) Report {
	query, counterpart := row.Ancestors, row.Descendants
	if order == OrderDescendants {
		query, counterpart = row.Descendants, row.Ancestors
	}
	if len(query) == 0 {
		if match {
			return Report{
				Code: http.StatusBadRequest,
				Name: fmt.Sprintf("missing `%s` in request; use order=ancestors|descendants to specify", order),
			}
		}
		return Report{Code: http.StatusOK, Name: "OK", Description: "Nothing to validate."}
	}

	if useCase == UseCaseSearch {
		filters, err := e.RenderSearchFilters(order, query)
		if err != nil {
			return errorReport(err)
		}
		return Report{Code: http.StatusOK, Name: "OK", Description: filters}
	}

	if !match {
		canonical, err := e.Lookup(order, query)
		if err != nil {
			return errorReport(err)
		}
		return Report{Code: http.StatusOK, Name: "OK", Description: canonical}
	}

	result, err := e.Match(order, query, counterpart)
	if err != nil {
		return errorReport(err)
	}
	if result.OK {
		return Report{Code: http.StatusOK, Name: "OK", Description: result.Canonical}
	}
	unit, _ := queryUnit(query)
	return Report{
		Code: http.StatusNotFound,
		Name: fmt.Sprintf("This `%s` `%s` cannot be associated with the provided %s due to entity constraints.",
			titleCase(unit.EntityType), strings.Join(unit.SubType, ", "), order),
		Description: result.Canonical,
	}
}

func errorReport(err error) Report {
	var notFound domain.ErrNotFound
	if errors.As(err, &notFound) {
		return Report{Code: http.StatusNotFound, Name: notFound.Error()}
	}
	var bad domain.ErrBadRequest
	if errors.As(err, &bad) {
		return Report{Code: http.StatusBadRequest, Name: bad.Message}
	}
	return Report{Code: http.StatusInternalServerError, Name: err.Error()}
}
