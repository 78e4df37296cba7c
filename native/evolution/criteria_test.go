package evolution

import (
	"errors"
	"math/big"
	"testing"
)

func TestCriterionRequiresEveryThreshold(t *testing.T) {
	crit := Criterion{MinReferrals: 10, MinVerifiedReferrals: 0, MinAmount: big.NewInt(10_000)}

	if crit.Met(Stats{Referrals: 10, VerifiedReferrals: 0, Amount: big.NewInt(9_999)}) {
		t.Fatalf("amount below threshold must not qualify")
	}
	if !crit.Met(Stats{Referrals: 10, VerifiedReferrals: 0, Amount: big.NewInt(10_000)}) {
		t.Fatalf("meeting every threshold exactly must qualify")
	}
	if crit.Met(Stats{Referrals: 9, VerifiedReferrals: 50, Amount: big.NewInt(1_000_000)}) {
		t.Fatalf("surplus in other dimensions must not compensate")
	}
}

func TestNewCriteriaTableReindexes(t *testing.T) {
	table, err := NewCriteriaTable(5, []uint8{2, 0}, []Criterion{
		{MinReferrals: 3},
		{MinReferrals: 1, MinAmount: big.NewInt(7)},
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if len(table) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(table))
	}
	if !table[0].Configured || table[0].Criterion.MinReferrals != 1 || table[0].Criterion.MinAmount.Int64() != 7 {
		t.Fatalf("unexpected slot 0: %+v", table[0])
	}
	if !table[2].Configured || table[2].Criterion.MinReferrals != 3 || table[2].Criterion.MinAmount.Sign() != 0 {
		t.Fatalf("unexpected slot 2: %+v", table[2])
	}
	if table[1].Configured || table[3].Configured {
		t.Fatalf("unlisted levels must stay unconfigured")
	}
}

func TestNewCriteriaTableValidation(t *testing.T) {
	cases := []struct {
		name     string
		total    uint8
		levels   []uint8
		criteria []Criterion
		want     error
	}{
		{"length mismatch", 5, []uint8{0, 1}, []Criterion{{}}, ErrLengthMismatch},
		{"terminal level", 5, []uint8{4}, []Criterion{{}}, ErrLevelOutOfRange},
		{"duplicate", 5, []uint8{1, 1}, []Criterion{{}, {}}, ErrDuplicateLevel},
		{"negative amount", 5, []uint8{0}, []Criterion{{MinAmount: big.NewInt(-1)}}, ErrNegativeThreshold},
		{"single level", 1, nil, nil, ErrInvalidTotalLevels},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCriteriaTable(tc.total, tc.levels, tc.criteria)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation class, got %v", err)
			}
		})
	}
}

func TestCriteriaTableEvaluate(t *testing.T) {
	levels, criteria := DefaultCriteria()
	table, err := NewCriteriaTable(DefaultTotalLevels, levels, criteria)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if err := table.Evaluate(0, Stats{Referrals: 10, Amount: big.NewInt(10_000)}); err != nil {
		t.Fatalf("expected level 0 eligibility, got %v", err)
	}
	err = table.Evaluate(1, Stats{Referrals: 100, VerifiedReferrals: 0, Amount: big.NewInt(100_000)})
	if !errors.Is(err, ErrCriteriaNotMet) || !errors.Is(err, ErrIneligible) {
		t.Fatalf("expected criteria not met, got %v", err)
	}
	if err := table.Evaluate(table.TerminalLevel(), Stats{Referrals: 1 << 40, Amount: big.NewInt(1 << 60)}); !errors.Is(err, ErrTerminalLevel) {
		t.Fatalf("expected terminal level error, got %v", err)
	}
	if table.IsEligible(4, Stats{}) {
		t.Fatalf("terminal level must never be eligible")
	}

	sparse, err := NewCriteriaTable(3, []uint8{1}, []Criterion{{}})
	if err != nil {
		t.Fatalf("sparse table: %v", err)
	}
	if err := sparse.Evaluate(0, Stats{Referrals: 1000}); !errors.Is(err, ErrCriteriaNotConfigured) {
		t.Fatalf("expected unconfigured level error, got %v", err)
	}
}

func TestCriteriaTableCloneIsDeep(t *testing.T) {
	table, err := NewCriteriaTable(3, []uint8{0}, []Criterion{{MinAmount: big.NewInt(5)}})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	clone := table.Clone()
	clone[0].Criterion.MinAmount.SetInt64(99)
	if table[0].Criterion.MinAmount.Int64() != 5 {
		t.Fatalf("clone aliases original amount")
	}
}
