// README: Hierarchy store backed by PostgreSQL; configs are append-only versioned snapshots.
package hierarchy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parkangel/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateNode(ctx context.Context, n *Node) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hierarchy_nodes (id, node_type, parent_id, name, operator_id, host_id, parking_type, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`,
		string(n.ID),
		string(n.Type),
		toStringPtr(n.ParentID),
		n.Name,
		string(n.OperatorID),
		string(n.HostID),
		string(n.ParkingType),
		n.CreatedAt,
	)
	return err
}

// nodeColumns selects a node together with its latest config version created at or before $asOf.
const nodeColumns = `
	n.id, n.node_type, n.parent_id, n.name,
	COALESCE(n.operator_id, ''), COALESCE(n.host_id, ''), COALESCE(n.parking_type, ''),
	n.created_at, c.version, c.config`

const latestConfigJoin = `
	LEFT JOIN LATERAL (
		SELECT version, config FROM node_configs
		WHERE node_id = n.id AND created_at <= $2
		ORDER BY version DESC
		LIMIT 1
	) c ON true`

func (s *Store) GetNode(ctx context.Context, id types.ID, asOf time.Time) (*Node, error) {
	row := s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM hierarchy_nodes n`+latestConfigJoin+` WHERE n.id = $1`, string(id), asOf)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// Chain returns the node and all its ancestors ordered from the node upward,
// each carrying the config snapshot that was current at asOf.
func (s *Store) Chain(ctx context.Context, id types.ID, asOf time.Time) ([]Node, error) {
	rows, err := s.db.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS depth FROM hierarchy_nodes WHERE id = $1
			UNION ALL
			SELECT p.id, p.parent_id, chain.depth + 1
			FROM hierarchy_nodes p JOIN chain ON p.id = chain.parent_id
			WHERE chain.depth < 8
		)
		SELECT `+nodeColumns+`
		FROM chain JOIN hierarchy_nodes n ON n.id = chain.id`+latestConfigJoin+`
		ORDER BY chain.depth ASC`, string(id), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return chain, nil
}

// AppendConfig stores cfg as the next version of the node's override snapshot.
func (s *Store) AppendConfig(ctx context.Context, nodeID types.ID, cfg PricingConfig, at time.Time) (int, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode pricing config: %w", err)
	}
	var version int
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// Lock the node row so concurrent writers get distinct versions.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM hierarchy_nodes WHERE id = $1 FOR UPDATE`, string(nodeID)).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO node_configs (node_id, version, config, created_at)
			SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3 FROM node_configs WHERE node_id = $1
			RETURNING version`, string(nodeID), raw, at).Scan(&version); err != nil {
			return err
		}
		return nil
	})
	return version, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var (
		n        Node
		parentID *string
		version  *int
		raw      []byte
		opID     string
		hostID   string
		parking  string
	)
	if err := row.Scan(&n.ID, &n.Type, &parentID, &n.Name, &opID, &hostID, &parking, &n.CreatedAt, &version, &raw); err != nil {
		return nil, err
	}
	if parentID != nil {
		p := types.ID(*parentID)
		n.ParentID = &p
	}
	n.OperatorID = types.ID(opID)
	n.HostID = types.ID(hostID)
	n.ParkingType = ParkingType(parking)
	if version != nil {
		var cfg PricingConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config for node %s: %w", n.ID, err)
		}
		n.Config = &cfg
		n.ConfigVersion = *version
	}
	return &n, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
