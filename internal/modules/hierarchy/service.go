// README: Hierarchy service creates nodes, writes validated config versions and serves ancestor chains.
package hierarchy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkangel/internal/types"
)

var (
	ErrNotFound   = errors.New("hierarchy node not found")
	ErrBadRequest = errors.New("bad request")
	ErrBadParent  = errors.New("invalid parent for node type")
)

// NodeStore is the persistence contract; *Store satisfies it.
type NodeStore interface {
	CreateNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, id types.ID, asOf time.Time) (*Node, error)
	Chain(ctx context.Context, id types.ID, asOf time.Time) ([]Node, error)
	AppendConfig(ctx context.Context, nodeID types.ID, cfg PricingConfig, at time.Time) (int, error)
}

type Service struct {
	store  NodeStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store NodeStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

type CreateNodeCommand struct {
	Type        NodeType
	ParentID    *types.ID
	Name        string
	OperatorID  types.ID
	HostID      types.ID
	ParkingType ParkingType
}

func (s *Service) CreateNode(ctx context.Context, cmd CreateNodeCommand) (types.ID, error) {
	if cmd.Name == "" {
		return "", ErrBadRequest
	}
	if cmd.ParkingType != "" && !cmd.ParkingType.Valid() {
		return "", &ConfigurationError{Path: "parkingType", Reason: "unknown parking type " + string(cmd.ParkingType)}
	}
	switch cmd.Type {
	case NodeLocation:
		if cmd.ParentID != nil {
			return "", ErrBadParent
		}
		if cmd.OperatorID == "" {
			return "", &ConfigurationError{Path: "operatorId", Reason: "a location must name its operator"}
		}
	case NodeSection, NodeZone, NodeSpot:
		if cmd.ParentID == nil {
			return "", ErrBadParent
		}
		parent, err := s.store.GetNode(ctx, *cmd.ParentID, s.now())
		if err != nil {
			return "", err
		}
		if parent.Type != parentType[cmd.Type] {
			return "", ErrBadParent
		}
	default:
		return "", ErrBadRequest
	}

	n := &Node{
		ID:          types.NewID(),
		Type:        cmd.Type,
		ParentID:    cmd.ParentID,
		Name:        cmd.Name,
		OperatorID:  cmd.OperatorID,
		HostID:      cmd.HostID,
		ParkingType: cmd.ParkingType,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateNode(ctx, n); err != nil {
		return "", err
	}
	return n.ID, nil
}

// PutConfig validates cfg and stores it as a new version. Existing charges keep
// the snapshot they were computed from.
func (s *Service) PutConfig(ctx context.Context, nodeID types.ID, cfg PricingConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("pricing config rejected", zap.String("node_id", string(nodeID)), zap.Error(err))
		return 0, err
	}
	version, err := s.store.AppendConfig(ctx, nodeID, cfg, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("pricing config stored", zap.String("node_id", string(nodeID)), zap.Int("version", version))
	return version, nil
}

// Chain returns the spot and its ancestors as of the given instant, checking
// that the tree shape is Spot→Zone→Section→Location.
func (s *Service) Chain(ctx context.Context, spotID types.ID, asOf time.Time) ([]Node, error) {
	chain, err := s.store.Chain(ctx, spotID, asOf)
	if err != nil {
		return nil, err
	}
	if err := CheckChain(chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// OperatorOf returns the operator owning the node, inherited from its location.
func (s *Service) OperatorOf(ctx context.Context, nodeID types.ID) (types.ID, error) {
	chain, err := s.store.Chain(ctx, nodeID, s.now())
	if err != nil {
		return "", err
	}
	for _, n := range chain {
		if n.OperatorID != "" {
			return n.OperatorID, nil
		}
	}
	return "", nil
}

// CheckChain verifies ordering (spot first) and parent types along the chain.
func CheckChain(chain []Node) error {
	if len(chain) == 0 || chain[0].Type != NodeSpot {
		return &ConfigurationError{Path: "chain", Reason: "chain must start at a spot"}
	}
	for i := 0; i < len(chain)-1; i++ {
		if parentType[chain[i].Type] != chain[i+1].Type {
			return &ConfigurationError{Path: "chain", Reason: "unexpected " + string(chain[i+1].Type) + " above " + string(chain[i].Type)}
		}
	}
	if chain[len(chain)-1].Type != NodeLocation {
		return &ConfigurationError{Path: "chain", Reason: "chain must end at a location"}
	}
	return nil
}
