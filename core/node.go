package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/core/events"
	"evlvault/core/state"
	"evlvault/native/evolution"
	"evlvault/observability/metrics"
	"evlvault/storage"
)

// Node owns the evolution engine, its persistent state and the event
// stream. Mutating calls are logged and counted here so the engine stays
// free of ambient concerns.
type Node struct {
	db      storage.Database
	state   *state.Manager
	engine  *evolution.Engine
	stream  *EventStream
	logger  *slog.Logger
	metrics *metrics.EvolutionMetrics
}

// NodeOption customises NewNode.
type NodeOption func(*Node)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEventHistory bounds the number of retained stream updates.
func WithEventHistory(limit int) NodeOption {
	return func(n *Node) {
		n.stream = NewEventStream(limit)
	}
}

// NewNode opens the evolution state stored in db.
func NewNode(db storage.Database, opts ...NodeOption) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	n := &Node{
		db:      db,
		state:   state.NewManager(db),
		stream:  NewEventStream(0),
		logger:  slog.Default(),
		metrics: metrics.Evolution(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if err := n.state.EnsureSchemaVersion(); err != nil {
		return nil, err
	}
	n.engine = evolution.NewEngine(n.state)
	n.engine.SetEmitter(events.EmitterFunc(n.emit))
	return n, nil
}

func (n *Node) emit(evt events.Event) {
	n.stream.Emit(evt)
	n.logger.Debug("evolution event", slog.String("type", evt.EventType()))
}

// Engine exposes the engine for read-only queries.
func (n *Node) Engine() *evolution.Engine { return n.engine }

// Events exposes the committed event stream.
func (n *Node) Events() *EventStream { return n.stream }

// State exposes the state manager.
func (n *Node) State() *state.Manager { return n.state }

// Close releases the underlying database.
func (n *Node) Close() {
	if n != nil && n.db != nil {
		n.db.Close()
	}
}

// InitGenesis seeds a fresh database. An already initialised database is
// left untouched and reported with initialised=false.
func (n *Node) InitGenesis(g evolution.Genesis) (initialised bool, err error) {
	err = n.engine.InitGenesis(g)
	switch {
	case errors.Is(err, evolution.ErrAlreadyInitialized):
		n.logger.Info("evolution state already initialised; genesis skipped")
		return false, nil
	case err != nil:
		return false, fmt.Errorf("init genesis: %w", err)
	}
	n.logger.Info("evolution genesis applied",
		slog.Int("total_levels", int(g.TotalLevels)),
		slog.String("owner", g.Owner.Hex()),
		slog.String("approver", g.Approver.Hex()))
	if pool, err := n.engine.RewardPool(); err == nil {
		n.metrics.SetRewardPool(pool)
	}
	return true, nil
}

func (n *Node) reject(operation string, err error, attrs ...any) {
	class := evolution.ErrorClass(err)
	n.metrics.ObserveRejection(operation, class)
	args := append([]any{slog.String("operation", operation), slog.String("class", class), slog.Any("error", err)}, attrs...)
	n.logger.Warn("evolution operation rejected", args...)
}

// Register admits a user approved by the current approver.
func (n *Node) Register(req evolution.RegistrationRequest) (*evolution.User, error) {
	user, err := n.engine.Register(req)
	if err != nil {
		n.reject("register", err, slog.String("user", req.User.Hex()))
		return nil, err
	}
	n.metrics.ObserveRegistration(req.VerificationType.String())
	n.logger.Info("user registered",
		slog.String("user", user.Address.Hex()),
		slog.String("referrer", user.Referrer.Hex()),
		slog.String("verification", user.VerificationType.String()))
	return user, nil
}

// Promote moves a user up one level.
func (n *Node) Promote(addr common.Address) (*evolution.User, error) {
	user, err := n.engine.Promote(addr)
	if err != nil {
		n.reject("promote", err, slog.String("user", addr.Hex()))
		return nil, err
	}
	n.metrics.ObservePromotion(user.Level)
	n.logger.Info("user promoted", slog.String("user", addr.Hex()), slog.Int("level", int(user.Level)))
	return user, nil
}

// PayReward credits addr from the reward pool.
func (n *Node) PayReward(caller, addr common.Address, base *big.Int) (*big.Int, error) {
	reward, err := n.engine.PayReward(caller, addr, base)
	if err != nil {
		n.reject("payReward", err, slog.String("user", addr.Hex()))
		return nil, err
	}
	remaining, _ := n.engine.RewardPool()
	n.metrics.ObserveReward(reward, remaining)
	n.logger.Info("reward paid", slog.String("user", addr.Hex()), slog.String("reward", reward.String()))
	return reward, nil
}

func (n *Node) admin(operation string, caller common.Address, fn func() error) error {
	if err := fn(); err != nil {
		n.reject(operation, err, slog.String("caller", caller.Hex()))
		return err
	}
	n.metrics.ObserveAdminUpdate(operation)
	n.logger.Info("evolution parameters updated", slog.String("operation", operation), slog.String("caller", caller.Hex()))
	return nil
}

func (n *Node) SetApprover(caller, approver common.Address) error {
	return n.admin("setApprover", caller, func() error { return n.engine.SetApprover(caller, approver) })
}

func (n *Node) SetRewardPercentages(caller common.Address, percentages []uint64) error {
	return n.admin("setRewardPercentages", caller, func() error { return n.engine.SetRewardPercentages(caller, percentages) })
}

func (n *Node) SetCriteria(caller common.Address, levels []uint8, criteria []evolution.Criterion) error {
	return n.admin("setCriteria", caller, func() error { return n.engine.SetCriteria(caller, levels, criteria) })
}

func (n *Node) SetWhitelistBatch(caller common.Address, addrs []common.Address, flags []bool) error {
	return n.admin("setWhitelistBatch", caller, func() error { return n.engine.SetWhitelistBatch(caller, addrs, flags) })
}

func (n *Node) TransferOwnership(caller, owner common.Address) error {
	return n.admin("transferOwnership", caller, func() error { return n.engine.TransferOwnership(caller, owner) })
}
