package evolution

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/core/events"
	"evlvault/crypto"
)

// Engine applies the registration, promotion and administration rules over a
// State backend. Mutations are serialised; reads never observe a partially
// applied update.
type Engine struct {
	mu      sync.RWMutex
	state   State
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine constructs an engine bound to the provided state.
func NewEngine(state State) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetEmitter configures the sink for committed events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for commitment freshness checks.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

func (e *Engine) withState() (State, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state, nil
}

// update runs fn in a state transaction and emits the collected events once
// the transaction has committed. Callers must hold e.mu for writing.
func (e *Engine) update(fn func(Txn, *[]events.Event) error) error {
	st, err := e.withState()
	if err != nil {
		return err
	}
	var pending []events.Event
	if err := st.Update(func(tx Txn) error {
		return fn(tx, &pending)
	}); err != nil {
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

func loadParams(r Reader) (*Params, error) {
	params, err := r.Params()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, ErrNotInitialized
	}
	return params, nil
}

// InitGenesis seeds the parameters, reward pool and fee whitelist of a fresh
// deployment.
func (e *Engine) InitGenesis(g Genesis) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateTotalLevels(g.TotalLevels); err != nil {
		return err
	}
	if g.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	percentages := g.RewardPercentages
	if len(percentages) == 0 {
		percentages = make([]uint64, g.TotalLevels)
	}
	rewards, err := NewRewardTable(g.TotalLevels, percentages)
	if err != nil {
		return err
	}
	criteria, err := NewCriteriaTable(g.TotalLevels, g.CriteriaLevels, g.Criteria)
	if err != nil {
		return err
	}
	pool := big.NewInt(0)
	if g.RewardPool != nil {
		if g.RewardPool.Sign() < 0 {
			return fmt.Errorf("%w: reward pool %s", ErrNegativeAmount, g.RewardPool)
		}
		pool.Set(g.RewardPool)
	}
	whitelist := make([]bool, len(g.FeeWhitelist))
	for i := range whitelist {
		whitelist[i] = true
	}
	entries, err := PairWhitelist(g.FeeWhitelist, whitelist)
	if err != nil {
		return err
	}

	return e.update(func(tx Txn, _ *[]events.Event) error {
		existing, err := tx.Params()
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyInitialized
		}
		params := &Params{
			TotalLevels:        g.TotalLevels,
			Owner:              g.Owner,
			Approver:           g.Approver,
			Criteria:           criteria,
			Rewards:            rewards,
			CommitmentMaxAge:   g.CommitmentMaxAge,
			SingleUseApprovals: g.SingleUseApprovals,
		}
		if err := tx.PutParams(params); err != nil {
			return err
		}
		if err := tx.SetRewardPool(pool); err != nil {
			return err
		}
		for _, entry := range entries {
			if err := tx.SetWhitelisted(entry.Address, entry.Exempt); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Queries ---

// Params returns a copy of the committed parameters.
func (e *Engine) Params() (*Params, error) {
	st, err := e.withState()
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	params, err := loadParams(st)
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// Approver returns the identity currently authorised to approve registrations.
func (e *Engine) Approver() (common.Address, error) {
	params, err := e.Params()
	if err != nil {
		return common.Address{}, err
	}
	return params.Approver, nil
}

// Owner returns the administrative identity.
func (e *Engine) Owner() (common.Address, error) {
	params, err := e.Params()
	if err != nil {
		return common.Address{}, err
	}
	return params.Owner, nil
}

// Criteria returns the committed evolution criteria table.
func (e *Engine) Criteria() (CriteriaTable, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return params.Criteria, nil
}

// RewardPercentages returns the committed reward percentage table.
func (e *Engine) RewardPercentages() (RewardTable, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return params.Rewards, nil
}

// IsWhitelisted reports the fee exemption flag for addr. Unknown addresses are
// not exempt.
func (e *Engine) IsWhitelisted(addr common.Address) (bool, error) {
	st, err := e.withState()
	if err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return st.Whitelisted(addr)
}

// User returns the registration record of addr.
func (e *Engine) User(addr common.Address) (*User, error) {
	st, err := e.withState()
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	user, ok, err := st.User(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
	}
	return user.Clone(), nil
}

// Stats returns the criteria inputs of a registered user.
func (e *Engine) Stats(addr common.Address) (Stats, error) {
	user, err := e.User(addr)
	if err != nil {
		return Stats{}, err
	}
	return user.Stats(), nil
}

// IsEligible reports whether a registered user currently qualifies for
// promotion.
func (e *Engine) IsEligible(addr common.Address) (bool, error) {
	st, err := e.withState()
	if err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	params, err := loadParams(st)
	if err != nil {
		return false, err
	}
	user, ok, err := st.User(addr)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
	}
	return params.Criteria.IsEligible(user.Level, user.Stats()), nil
}

// PreviewReward computes the reward for base at level without touching state.
func (e *Engine) PreviewReward(level uint8, base *big.Int) (*big.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return params.Rewards.ApplyReward(level, base)
}

// RewardPool returns the remaining reward supply.
func (e *Engine) RewardPool() (*big.Int, error) {
	st, err := e.withState()
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return st.RewardPool()
}

// Balance returns the ledger balance credited to addr.
func (e *Engine) Balance(addr common.Address) (*big.Int, error) {
	st, err := e.withState()
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return st.Balance(addr)
}

// --- Administration ---

// SetRewardPercentages replaces the whole reward percentage table.
func (e *Engine) SetRewardPercentages(caller common.Address, percentages []uint64) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		table, err := NewRewardTable(params.TotalLevels, percentages)
		if err != nil {
			return err
		}
		next := params.Clone()
		next.Rewards = table
		if err := tx.PutParams(next); err != nil {
			return err
		}
		*pending = append(*pending, events.EvolutionPercentagesUpdated{Caller: caller, Percentages: table.Clone()})
		return nil
	})
}

// SetCriteria replaces the whole criteria table. Levels absent from the call
// end up unconfigured.
func (e *Engine) SetCriteria(caller common.Address, levels []uint8, criteria []Criterion) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		table, err := NewCriteriaTable(params.TotalLevels, levels, criteria)
		if err != nil {
			return err
		}
		next := params.Clone()
		next.Criteria = table
		if err := tx.PutParams(next); err != nil {
			return err
		}
		*pending = append(*pending, events.EvolutionCriteriaUpdated{Caller: caller, Levels: append([]uint8(nil), levels...)})
		return nil
	})
}

// SetApprover overwrites the approver identity. Signatures are checked against
// the approver at verification time, so rotating invalidates every signature
// the previous approver issued for registrations that have not landed yet.
func (e *Engine) SetApprover(caller common.Address, approver common.Address) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		previous := params.Approver
		if previous != approver {
			next := params.Clone()
			next.Approver = approver
			if err := tx.PutParams(next); err != nil {
				return err
			}
		}
		*pending = append(*pending, events.EvolutionApproverUpdated{Caller: caller, Previous: previous, Approver: approver})
		return nil
	})
}

// SetWhitelistBatch applies fee exemption flags pairwise.
func (e *Engine) SetWhitelistBatch(caller common.Address, addrs []common.Address, flags []bool) error {
	if e == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		entries, err := PairWhitelist(addrs, flags)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := tx.SetWhitelisted(entry.Address, entry.Exempt); err != nil {
				return err
			}
		}
		*pending = append(*pending, events.EvolutionWhitelistUpdated{Caller: caller, Entries: len(entries)})
		return nil
	})
}

// TransferOwnership hands the administrative capability to newOwner.
func (e *Engine) TransferOwnership(caller common.Address, newOwner common.Address) error {
	if e == nil {
		return ErrNilState
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: new owner", ErrZeroAddress)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		next := params.Clone()
		next.Owner = newOwner
		if err := tx.PutParams(next); err != nil {
			return err
		}
		*pending = append(*pending, events.EvolutionOwnershipTransferred{Previous: caller, Owner: newOwner})
		return nil
	})
}

// --- Registration and promotion ---

// Register admits req.User at level 0 when the signature over the
// registration commitment recovers to the current approver.
func (e *Engine) Register(req RegistrationRequest) (*User, error) {
	if e == nil {
		return nil, ErrNilState
	}
	if req.User == (common.Address{}) {
		return nil, fmt.Errorf("%w: user", ErrZeroAddress)
	}
	if !req.VerificationType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVerificationType, req.VerificationType)
	}
	if req.Referrer == req.User {
		return nil, ErrSelfReferral
	}
	sig, err := crypto.SplitSignature(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	commitment := MakeCommitment(req.VerificationType, req.Referrer, req.Timestamp)
	if req.Commitment != (common.Hash{}) && req.Commitment != commitment {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrCommitmentMismatch, req.Commitment.Hex(), commitment.Hex())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var registered *User
	err = e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if _, exists, err := tx.User(req.User); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, req.User.Hex())
		}
		var referrer *User
		if req.Referrer != (common.Address{}) {
			ref, ok, err := tx.User(req.Referrer)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownReferrer, req.Referrer.Hex())
			}
			referrer = ref
		}

		if err := e.checkFreshness(params, req.Timestamp); err != nil {
			return err
		}
		if params.Approver == (common.Address{}) {
			return ErrApproverNotSet
		}
		signer, err := crypto.RecoverTextSigner(commitment.Bytes(), sig)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		if signer != params.Approver {
			return fmt.Errorf("%w: recovered %s", ErrSignerMismatch, signer.Hex())
		}
		if params.SingleUseApprovals {
			consumed, err := tx.CommitmentConsumed(commitment)
			if err != nil {
				return err
			}
			if consumed {
				return fmt.Errorf("%w: %s", ErrCommitmentConsumed, commitment.Hex())
			}
		}

		user := &User{
			Address:          req.User,
			Level:            0,
			Referrer:         req.Referrer,
			VerificationType: req.VerificationType,
			TotalEarned:      big.NewInt(0),
			Commitment:       commitment,
			RegisteredAt:     req.Timestamp,
		}
		if err := tx.PutUser(user); err != nil {
			return err
		}
		if params.SingleUseApprovals {
			if err := tx.ConsumeCommitment(commitment, req.User); err != nil {
				return err
			}
		}
		if referrer != nil {
			referrer.Referrals++
			if req.VerificationType == VerificationOrb {
				referrer.VerifiedReferrals++
			}
			if err := tx.PutUser(referrer); err != nil {
				return err
			}
		}
		*pending = append(*pending, events.EvolutionRegistered{
			User:             req.User,
			Referrer:         req.Referrer,
			VerificationType: uint8(req.VerificationType),
			Commitment:       commitment,
			Approver:         params.Approver,
		})
		registered = user.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return registered, nil
}

func (e *Engine) checkFreshness(params *Params, timestamp uint64) error {
	if params.CommitmentMaxAge == 0 {
		return nil
	}
	now := e.nowFn().Unix()
	if now < 0 {
		now = 0
	}
	current := uint64(now)
	var drift uint64
	if current >= timestamp {
		drift = current - timestamp
	} else {
		drift = timestamp - current
	}
	if drift > params.CommitmentMaxAge {
		return fmt.Errorf("%w: timestamp %d, now %d, max age %ds", ErrCommitmentExpired, timestamp, current, params.CommitmentMaxAge)
	}
	return nil
}

// Promote moves a registered user up exactly one level when the criteria of
// its current level are met.
func (e *Engine) Promote(addr common.Address) (*User, error) {
	if e == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var promoted *User
	err := e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		user, ok, err := tx.User(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
		}
		if err := params.Criteria.Evaluate(user.Level, user.Stats()); err != nil {
			return err
		}
		from := user.Level
		user.Level++
		if err := tx.PutUser(user); err != nil {
			return err
		}
		*pending = append(*pending, events.EvolutionPromoted{User: addr, FromLevel: from, ToLevel: user.Level})
		promoted = user.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// PayReward credits a registered user with the reward its level earns on
// base, drawn from the reward pool. The pool never goes below zero.
func (e *Engine) PayReward(caller common.Address, addr common.Address, base *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var paid *big.Int
	err := e.update(func(tx Txn, pending *[]events.Event) error {
		params, err := loadParams(tx)
		if err != nil {
			return err
		}
		if err := requireOwner(params, caller); err != nil {
			return err
		}
		user, ok, err := tx.User(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
		}
		reward, err := params.Rewards.ApplyReward(user.Level, base)
		if err != nil {
			return err
		}
		paid = reward
		if reward.Sign() == 0 {
			return nil
		}
		pool, err := tx.RewardPool()
		if err != nil {
			return err
		}
		if pool.Cmp(reward) < 0 {
			return fmt.Errorf("%w: reward %s, remaining %s", ErrRewardPoolDepleted, reward, pool)
		}
		remaining := new(big.Int).Sub(pool, reward)
		if err := tx.SetRewardPool(remaining); err != nil {
			return err
		}
		balance, err := tx.Balance(addr)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(addr, new(big.Int).Add(balance, reward)); err != nil {
			return err
		}
		if user.TotalEarned == nil {
			user.TotalEarned = big.NewInt(0)
		}
		user.TotalEarned = new(big.Int).Add(user.TotalEarned, reward)
		if err := tx.PutUser(user); err != nil {
			return err
		}
		*pending = append(*pending, events.EvolutionRewardPaid{
			User:      addr,
			Level:     user.Level,
			Base:      new(big.Int).Set(base),
			Reward:    new(big.Int).Set(reward),
			Remaining: remaining,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
