package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/failover/internal/core/domain"
)

// ErrEndpointNotFound is returned when no row matches an endpoint id.
var ErrEndpointNotFound = errors.New("endpoint not found")

// endpointRow mirrors the endpoints table.
type endpointRow struct {
	ID              string `db:"id"`
	Label           string `db:"label"`
	Priority        int    `db:"priority"`
	Address         string `db:"address"`
	Capabilities    string `db:"capabilities"`
	KnownUnreliable bool   `db:"known_unreliable"`
	Transport       string `db:"transport"`
}

func (r endpointRow) toDomain() domain.Endpoint {
	var caps []domain.Capability
	for _, c := range strings.Split(r.Capabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, domain.Capability(c))
		}
	}
	return domain.Endpoint{
		ID:              r.ID,
		Label:           r.Label,
		Priority:        r.Priority,
		Address:         r.Address,
		Capabilities:    caps,
		KnownUnreliable: r.KnownUnreliable,
		Transport:       domain.TransportKind(r.Transport),
	}
}

func joinCapabilities(caps []domain.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

const selectEndpoints = `SELECT id, label, priority, address, capabilities, known_unreliable, transport
FROM endpoints`

// EndpointRepo stores endpoint descriptors in PostgreSQL.
type EndpointRepo struct {
	db *DB
}

// NewEndpointRepo creates a new PostgreSQL endpoint repository.
func NewEndpointRepo(db *DB) *EndpointRepo {
	return &EndpointRepo{db: db}
}

// List returns the enabled endpoints ordered by priority.
func (r *EndpointRepo) List(ctx context.Context) ([]domain.Endpoint, error) {
	var rows []endpointRow
	err := r.db.SelectContext(ctx, &rows, selectEndpoints+` WHERE enabled ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	out := make([]domain.Endpoint, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// Get retrieves one endpoint by id.
func (r *EndpointRepo) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	var row endpointRow
	err := r.db.GetContext(ctx, &row, selectEndpoints+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	ep := row.toDomain()
	return &ep, nil
}

// Upsert inserts or updates an endpoint descriptor.
func (r *EndpointRepo) Upsert(ctx context.Context, ep domain.Endpoint) error {
	if ep.ID == "" {
		return errors.New("endpoint id is required")
	}
	if ep.Transport == "" {
		ep.Transport = domain.TransportHTTP
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO endpoints (id, label, priority, address, capabilities, known_unreliable, transport)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    label = EXCLUDED.label,
    priority = EXCLUDED.priority,
    address = EXCLUDED.address,
    capabilities = EXCLUDED.capabilities,
    known_unreliable = EXCLUDED.known_unreliable,
    transport = EXCLUDED.transport,
    enabled = TRUE,
    updated_at = NOW()`,
		ep.ID, ep.Label, ep.Priority, ep.Address, joinCapabilities(ep.Capabilities), ep.KnownUnreliable, string(ep.Transport),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoint %s: %w", ep.ID, err)
	}
	return nil
}

// Disable removes an endpoint from future registries without deleting it.
func (r *EndpointRepo) Disable(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE endpoints SET enabled = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to disable endpoint %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to disable endpoint %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	return nil
}
