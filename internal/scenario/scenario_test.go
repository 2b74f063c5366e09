package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardLedger/internal/model"
)

type collectingSink struct {
	events []model.LedgerEvent
}

func (c *collectingSink) PutEventBatch(events []model.LedgerEvent) error {
	c.events = append(c.events, events...)
	return nil
}

func TestRunTwoPools(t *testing.T) {
	sc, err := Load("testdata/two_pools.yaml")
	require.NoError(t, err)

	sink := &collectingSink{}
	report, err := Run(context.Background(), sc, Options{Sink: sink})
	require.NoError(t, err)

	assert.Equal(t, "two-pools", report.Name)
	assert.Len(t, report.Steps, len(sc.Steps))
	assert.Equal(t, "2212500000000000000000", report.Minted)
	assert.Equal(t, report.Minted, report.Snapshot.TotalDistributed)
	assert.Equal(t, uint64(1700001150), report.Snapshot.Timestamp)

	last := report.Steps[len(report.Steps)-2]
	assert.Equal(t, ActionClaimAll, last.Action)
	assert.Contains(t, last.Error, "no accrued rewards")

	paid := 0
	for _, e := range sink.events {
		if e.Kind == model.EventRewardPaid {
			paid++
		}
	}
	// bob's claim, then alice's claim_all across both pools
	assert.Equal(t, 3, paid)
}

func TestRunStopsOnMismatch(t *testing.T) {
	sc, err := Parse([]byte(`
admins: ["0x00000000000000000000000000000000000000ad"]
pools:
  - {id: "0x1000000000000000000000000000000000000001", vault: "0x2000000000000000000000000000000000000001", rate: "1"}
steps:
  - {action: deposit, user: "0x000000000000000000000000000000000000a11c", pool: "0x1000000000000000000000000000000000000001", amount: "5"}
  - {action: earned, advance: 10, user: "0x000000000000000000000000000000000000a11c", pool: "0x1000000000000000000000000000000000000001", want: "11"}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), sc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (earned)")
}

func TestRunRejectsMissingExpectedError(t *testing.T) {
	sc, err := Parse([]byte(`
admins: ["0x00000000000000000000000000000000000000ad"]
pools:
  - {id: "0x1000000000000000000000000000000000000001", vault: "0x2000000000000000000000000000000000000001", rate: "1"}
steps:
  - {action: poke, pool: "0x1000000000000000000000000000000000000001", error: "unknown pool"}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), sc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got none")
}

func TestRunLateRegistration(t *testing.T) {
	sc, err := Parse([]byte(`
admins: ["0x00000000000000000000000000000000000000ad"]
pools:
  - {id: "0x1000000000000000000000000000000000000001", vault: "0x2000000000000000000000000000000000000001", rate: "1", unregistered: true}
steps:
  - {action: deposit, user: "0x000000000000000000000000000000000000a11c", pool: "0x1000000000000000000000000000000000000001", amount: "5", error: "unknown pool"}
  - {action: register, pool: "0x1000000000000000000000000000000000000001"}
  - {action: register, pool: "0x1000000000000000000000000000000000000001", error: "already registered"}
  - {action: deposit, user: "0x000000000000000000000000000000000000a11c", pool: "0x1000000000000000000000000000000000000001", amount: "5"}
  - {action: claim, advance: 4, user: "0x000000000000000000000000000000000000a11c", pool: "0x1000000000000000000000000000000000000001", want: "4"}
`))
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "4000000000000000000", report.Minted)
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"no admins":      `pools: [{id: "0x01", vault: "0x02"}]`,
		"no pools":       `admins: ["0x00000000000000000000000000000000000000ad"]`,
		"unknown action": `{admins: ["0xad"], pools: [{id: "0x01", vault: "0x02"}], steps: [{action: mint}]}`,
		"missing field":  `{admins: ["0xad"], pools: [{id: "0x01", vault: "0x02"}], steps: [{action: deposit, user: "0x01"}]}`,
		"bad yaml":       `admins: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
