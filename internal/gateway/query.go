package gateway

import (
	dErrors "clinicore/pkg/domain-errors"
)

// QueryRequest is the transport-agnostic read record.
type QueryRequest struct {
	QueryType string         `json:"query_type"`
	Params    map[string]any `json:"params"`
}

// QueryResult is returned from every query invocation.
type QueryResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *ResultError   `json:"error,omitempty"`
}

// ProjectionReader exposes a projection's current state snapshot. The query
// gateway never loads aggregates, never reads the event store, and never
// runs business rules; anything beyond structural filtering belongs in the
// projection itself.
type ProjectionReader interface {
	State() map[string]any
}

// ResponseMapper shapes projection state plus params into the response.
// Pure: no I/O, no mutation of state.
type ResponseMapper func(state, params map[string]any) (map[string]any, error)

type queryRegistration struct {
	projection ProjectionReader
	mapper     ResponseMapper
}

// QueryGateway routes read requests to registered projections.
type QueryGateway struct {
	registrations map[string]queryRegistration
}

func NewQueryGateway() *QueryGateway {
	return &QueryGateway{registrations: make(map[string]queryRegistration)}
}

// RegisterQuery installs a query type.
func (g *QueryGateway) RegisterQuery(queryType string, projection ProjectionReader, mapper ResponseMapper) {
	g.registrations[queryType] = queryRegistration{projection: projection, mapper: mapper}
}

// Handle processes one query. Never throws; all failures are values.
func (g *QueryGateway) Handle(req QueryRequest) QueryResult {
	if req.QueryType == "" {
		return queryFailure(dErrors.New(dErrors.CodeValidation, "query_type is required"))
	}
	reg, ok := g.registrations[req.QueryType]
	if !ok {
		return queryFailure(dErrors.Newf(dErrors.CodeUnknownQuery, "unknown query type: %s", req.QueryType))
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	data, err := reg.mapper(reg.projection.State(), params)
	if err != nil {
		return queryFailure(err)
	}
	return QueryResult{Success: true, Data: data}
}

func queryFailure(err error) QueryResult {
	return QueryResult{
		Success: false,
		Error: &ResultError{
			Kind:      dErrors.CodeOf(err),
			Invariant: dErrors.InvariantOf(err),
			Detail:    errDetail(err),
		},
	}
}
