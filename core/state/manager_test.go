package state

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"evlvault/crypto"
	"evlvault/native/evolution"
	"evlvault/storage"
)

func sampleParams(t *testing.T) *evolution.Params {
	t.Helper()
	levels, criteria := evolution.DefaultCriteria()
	table, err := evolution.NewCriteriaTable(evolution.DefaultTotalLevels, levels[:2], criteria[:2])
	require.NoError(t, err)
	rewards, err := evolution.NewRewardTable(evolution.DefaultTotalLevels, evolution.DefaultRewardPercentages())
	require.NoError(t, err)
	return &evolution.Params{
		TotalLevels:        evolution.DefaultTotalLevels,
		Owner:              common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Approver:           common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Criteria:           table,
		Rewards:            rewards,
		CommitmentMaxAge:   600,
		SingleUseApprovals: true,
	}
}

func TestManagerParamsRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	params, err := mgr.Params()
	require.NoError(t, err)
	require.Nil(t, params)

	want := sampleParams(t)
	require.NoError(t, mgr.Update(func(tx evolution.Txn) error {
		return tx.PutParams(want)
	}))

	got, err := mgr.Params()
	require.NoError(t, err)
	require.Equal(t, want.TotalLevels, got.TotalLevels)
	require.Equal(t, want.Owner, got.Owner)
	require.Equal(t, want.Approver, got.Approver)
	require.Equal(t, want.Rewards, got.Rewards)
	require.Equal(t, want.CommitmentMaxAge, got.CommitmentMaxAge)
	require.True(t, got.SingleUseApprovals)
	require.Len(t, got.Criteria, 4)
	for i, slot := range want.Criteria {
		require.Equal(t, slot.Configured, got.Criteria[i].Configured, "slot %d", i)
		require.Equal(t, slot.Criterion.MinReferrals, got.Criteria[i].Criterion.MinReferrals)
		require.Equal(t, slot.Criterion.MinVerifiedReferrals, got.Criteria[i].Criterion.MinVerifiedReferrals)
		require.Zero(t, slot.Criterion.MinAmount.Cmp(got.Criteria[i].Criterion.MinAmount))
	}
}

func TestManagerUserAndLedger(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	user := &evolution.User{
		Address:           addr,
		Level:             2,
		Referrer:          common.HexToAddress("0x00000000000000000000000000000000000000c2"),
		VerificationType:  evolution.VerificationOrb,
		Referrals:         12,
		VerifiedReferrals: 3,
		TotalEarned:       big.NewInt(123_456),
		Commitment:        common.HexToHash("0x01"),
		RegisteredAt:      1_700_000_000,
	}
	commitment := common.HexToHash("0xabcdef")

	require.NoError(t, mgr.Update(func(tx evolution.Txn) error {
		if err := tx.PutUser(user); err != nil {
			return err
		}
		if err := tx.SetWhitelisted(addr, true); err != nil {
			return err
		}
		if err := tx.ConsumeCommitment(commitment, addr); err != nil {
			return err
		}
		if err := tx.SetRewardPool(big.NewInt(1_000)); err != nil {
			return err
		}
		return tx.SetBalance(addr, big.NewInt(77))
	}))

	got, ok, err := mgr.User(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, user, got)

	_, ok, err = mgr.User(common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.False(t, ok)

	exempt, err := mgr.Whitelisted(addr)
	require.NoError(t, err)
	require.True(t, exempt)

	consumed, err := mgr.CommitmentConsumed(commitment)
	require.NoError(t, err)
	require.True(t, consumed)
	owner, ok, err := mgr.CommitmentOwner(commitment)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr, owner)

	pool, err := mgr.RewardPool()
	require.NoError(t, err)
	require.Equal(t, int64(1_000), pool.Int64())
	balance, err := mgr.Balance(addr)
	require.NoError(t, err)
	require.Equal(t, int64(77), balance.Int64())
	empty, err := mgr.Balance(common.HexToAddress("0x02"))
	require.NoError(t, err)
	require.Zero(t, empty.Sign())
}

func TestManagerUpdateIsAllOrNothing(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	boom := errors.New("boom")

	err := mgr.Update(func(tx evolution.Txn) error {
		require.NoError(t, tx.SetWhitelisted(addr, true))
		exempt, err := tx.Whitelisted(addr)
		require.NoError(t, err)
		require.True(t, exempt, "transaction must observe its own writes")

		committed, err := mgr.Whitelisted(addr)
		require.NoError(t, err)
		require.False(t, committed, "uncommitted write leaked")
		return boom
	})
	require.ErrorIs(t, err, boom)

	exempt, err := mgr.Whitelisted(addr)
	require.NoError(t, err)
	require.False(t, exempt)
}

func TestManagerRejectsNegativeAmounts(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.Update(func(tx evolution.Txn) error {
		return tx.SetBalance(common.HexToAddress("0x01"), big.NewInt(-1))
	})
	require.Error(t, err)
}

func TestSchemaVersion(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	version, err := mgr.SchemaVersion()
	require.NoError(t, err)
	require.Zero(t, version)

	require.NoError(t, mgr.EnsureSchemaVersion())
	version, err = mgr.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)
	require.NoError(t, mgr.EnsureSchemaVersion())

	require.NoError(t, mgr.SetSchemaVersion(SchemaVersion+1))
	require.ErrorIs(t, mgr.EnsureSchemaVersion(), ErrSchemaVersionMismatch)
}

func TestEngineOverLevelDBSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	approver, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	engine := evolution.NewEngine(NewManager(db))
	levels, criteria := evolution.DefaultCriteria()
	require.NoError(t, engine.InitGenesis(evolution.Genesis{
		TotalLevels:       evolution.DefaultTotalLevels,
		Owner:             owner,
		Approver:          approver.PubKey().Address(),
		RewardPercentages: evolution.DefaultRewardPercentages(),
		CriteriaLevels:    levels,
		Criteria:          criteria,
		RewardPool:        big.NewInt(1_000_000),
	}))

	commitment := evolution.MakeCommitment(evolution.VerificationOrb, common.Address{}, 1_700_000_000)
	sig, err := crypto.SignText(approver, commitment.Bytes())
	require.NoError(t, err)
	_, err = engine.Register(evolution.RegistrationRequest{
		User:             user,
		VerificationType: evolution.VerificationOrb,
		Timestamp:        1_700_000_000,
		Signature:        sig.Bytes(),
	})
	require.NoError(t, err)
	_, err = engine.PayReward(owner, user, big.NewInt(1_000_000))
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	reopened := evolution.NewEngine(NewManager(db))

	stored, err := reopened.User(user)
	require.NoError(t, err)
	require.Equal(t, evolution.VerificationOrb, stored.VerificationType)
	require.Equal(t, int64(1_000), stored.TotalEarned.Int64())

	pool, err := reopened.RewardPool()
	require.NoError(t, err)
	require.Equal(t, int64(999_000), pool.Int64())

	approverAddr, err := reopened.Approver()
	require.NoError(t, err)
	require.Equal(t, approver.PubKey().Address(), approverAddr)
}
