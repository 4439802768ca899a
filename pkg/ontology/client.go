// Package ontology implements the read-only query surface against the domain
// ontology store: does a verb exist, is it authorized at the caller's maturity
// level, and which validators govern it.
//
// The store is modeled as a small graph over Postgres tables (actions,
// maturity_levels, regulations, validators, and the edges between them) rather than
// a dedicated graph database, since the pack this repo was built from carries a pgx
// stack but no Go graph-store driver. The query shape mirrors a genuine graph
// traversal: action lookup, then two independent one-hop expansions
// (REQUIRES_MATURITY, REQUIRES_VALIDATOR).
package ontology

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentrygate/pkg/models"
)

// Client is the contract the gate depends on. It is satisfied by *Store (backed by
// Postgres) and by any test double.
type Client interface {
	ValidateSemanticAuthority(ctx context.Context, action models.ActionPrimitive, maturityLevel int) (models.SemanticVerdict, error)
	RequiredValidators(ctx context.Context, action models.ActionPrimitive) ([]string, error)
	Ping(ctx context.Context) error
}

// Store is the pgx-backed Client implementation. Queries are read-only; the gate
// never writes through this client.
type Store struct {
	pool reconnectablePool
}

type reconnectablePool interface {
	Query(ctx context.Context, sql string, args ...any) (pgxRows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgxRow
	Ping(ctx context.Context) error
}

// pgxRows/pgxRow are the narrow slices of the pgx interfaces this package needs,
// so tests can supply an in-memory double without importing pgx's driver machinery.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type pgxRow interface {
	Scan(dest ...any) error
}

type poolAdapter struct{ pool *pgxpool.Pool }

func (p poolAdapter) Query(ctx context.Context, sql string, args ...any) (pgxRows, error) {
	return p.pool.Query(ctx, sql, args...)
}
func (p poolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgxRow {
	return p.pool.QueryRow(ctx, sql, args...)
}
func (p poolAdapter) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// NewStore wraps an existing pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: poolAdapter{pool: pool}}
}

const actionLookupQuery = `
SELECT a.id, a.required_maturity, a.requires_validation
FROM actions a
WHERE a.domain = $1 AND a.verb = $2
`

// ValidateSemanticAuthority implements spec.md §4.2's algorithm: verb existence,
// maturity gate, then parameter coverage.
func (s *Store) ValidateSemanticAuthority(ctx context.Context, action models.ActionPrimitive, maturityLevel int) (models.SemanticVerdict, error) {
	var actionID int64
	var requiredMaturity int
	var requiresValidation bool
	err := withReconnect(ctx, s.pool, func() error {
		row := s.pool.QueryRow(ctx, actionLookupQuery, action.Domain, action.Verb)
		return row.Scan(&actionID, &requiredMaturity, &requiresValidation)
	})
	if err == errNoRows {
		return models.SemanticVerdict{
			Decision:           models.Deny,
			OntologyMatch:      false,
			MaturityAuthorized: false,
			Coverage:           0,
			Reason:             models.ReasonUnknownVerb,
		}, nil
	}
	if err != nil {
		return models.SemanticVerdict{}, err
	}

	if maturityLevel < requiredMaturity {
		return models.SemanticVerdict{
			Decision:           models.Deny,
			OntologyMatch:      true,
			MaturityAuthorized: false,
			Coverage:           0,
			Reason:             fmt.Sprintf("AMM_VIOLATION: requires L%d", requiredMaturity),
		}, nil
	}

	coverage, err := s.parameterCoverage(ctx, actionID, action)
	if err != nil {
		return models.SemanticVerdict{}, err
	}

	return models.SemanticVerdict{
		Decision:           models.Allow,
		OntologyMatch:      true,
		MaturityAuthorized: true,
		Coverage:           coverage,
		Reason:             "SEMANTIC_OK",
		RequiresValidation: requiresValidation,
	}, nil
}

// parameterCoverage computes |parameters governed by the ontology| / |parameters|.
// 1.0 when the action takes no parameters.
func (s *Store) parameterCoverage(ctx context.Context, actionID int64, action models.ActionPrimitive) (float64, error) {
	params, err := action.ParametersMap()
	if err != nil {
		return 0, fmt.Errorf("decode parameters: %w", err)
	}
	if len(params) == 0 {
		return 1.0, nil
	}
	governed := map[string]struct{}{}
	err = withReconnect(ctx, s.pool, func() error {
		rows, err := s.pool.Query(ctx, `SELECT name FROM action_parameters WHERE action_id = $1`, actionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			governed[name] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, err
	}
	covered := 0
	for name := range params {
		if _, ok := governed[name]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(params)), nil
}

// RequiredValidators returns the ordered validator names for an action, sorted by
// the ontology's declared registry ordinal so results are byte-reproducible.
func (s *Store) RequiredValidators(ctx context.Context, action models.ActionPrimitive) ([]string, error) {
	type row struct {
		name    string
		ordinal int
	}
	var out []row
	err := withReconnect(ctx, s.pool, func() error {
		out = nil
		rows, err := s.pool.Query(ctx, `
			SELECT av.validator_name, av.ordinal
			FROM actions a
			JOIN action_validators av ON av.action_id = a.id
			WHERE a.domain = $1 AND a.verb = $2
		`, action.Domain, action.Verb)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.name, &r.ordinal); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ordinal < out[j].ordinal })
	names := make([]string, 0, len(out))
	for _, r := range out {
		names = append(names, r.name)
	}
	return names, nil
}

// Ping checks that the ontology store session is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
