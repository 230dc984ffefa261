package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventmodels "eventlens/internal/event/models"
	dErrors "eventlens/pkg/domain-errors"
)

func TestHappyPathTransitions(t *testing.T) {
	run := NewRun()
	for _, next := range []State{StateTokenValidated, StateNotYetClaimed, StateAssetTransferred, StateFrozen, StateRecorded} {
		require.NoError(t, run.Advance(next), "advance to %s", next)
	}
	assert.True(t, run.State().IsTerminal())
	assert.Equal(t, []State{
		StateRequested, StateTokenValidated, StateNotYetClaimed,
		StateAssetTransferred, StateFrozen, StateRecorded,
	}, run.History())
	assert.False(t, run.Visited(StatePartiallyIssued))
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateRequested, StateAssetTransferred},
		{StateTokenValidated, StateFrozen},
		{StateNotYetClaimed, StateRecorded},
		{StateAssetTransferred, StateRejected},
		{StateFrozen, StatePartiallyIssued},
		{StateRecorded, StateRequested},
		{StateRejected, StateTokenValidated},
		{StatePartiallyIssued, StateRecorded},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			run := &Run{state: tt.from, history: []State{tt.from}}
			err := run.Advance(tt.to)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
			assert.Equal(t, tt.from, run.State())
		})
	}
}

func TestPartiallyIssuedRecovers(t *testing.T) {
	run := ResumeRun(eventmodels.IssuancePartiallyIssued)
	assert.Equal(t, StatePartiallyIssued, run.State())
	require.NoError(t, run.Advance(StateFrozen))
	require.NoError(t, run.Advance(StateRecorded))
	assert.True(t, run.Visited(StatePartiallyIssued))
}

func TestStateFromIssuance(t *testing.T) {
	assert.Equal(t, StateNotYetClaimed, StateFromIssuance(eventmodels.IssuanceNotYetClaimed))
	assert.Equal(t, StateAssetTransferred, StateFromIssuance(eventmodels.IssuanceAssetTransferred))
	assert.Equal(t, StateFrozen, StateFromIssuance(eventmodels.IssuanceFrozen))
	assert.Equal(t, StatePartiallyIssued, StateFromIssuance(eventmodels.IssuancePartiallyIssued))
}

func TestClaimRequestValidate(t *testing.T) {
	valid := func() ClaimRequest {
		return ClaimRequest{
			EventID:     " evt00001 ",
			Identity:    "ZKLYCEWKDO64V6WCGGZZUI64JWTYN37YCR6E44VZQB3YLL7OJC53HXOGMM",
			VerifyToken: "tok",
			Fingerprint: "9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08",
		}
	}

	r := valid()
	r.Normalize()
	require.NoError(t, r.Validate())
	assert.Equal(t, "evt00001", r.EventID)
	assert.Equal(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", r.Fingerprint)

	for name, mutate := range map[string]func(*ClaimRequest){
		"missing event": func(r *ClaimRequest) { r.EventID = "" },
		"bad wallet":    func(r *ClaimRequest) { r.Identity = "nope" },
		"missing token": func(r *ClaimRequest) { r.VerifyToken = "" },
		"short hash":    func(r *ClaimRequest) { r.Fingerprint = "abcd" },
		"non hex hash":  func(r *ClaimRequest) { r.Fingerprint = "zz" + r.Fingerprint[2:] },
	} {
		t.Run(name, func(t *testing.T) {
			r := valid()
			r.Normalize()
			mutate(&r)
			assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeMalformedInput))
		})
	}
}

func TestNewMintResponse(t *testing.T) {
	resp := NewMintResponse(&Outcome{Recorded: true, TransferTxID: "TX1", AssetID: 7, ProofTxID: "PR1"}, "https://explorer/tx/")
	assert.True(t, resp.Success)
	assert.Equal(t, "https://explorer/tx/TX1", resp.ExplorerURL)
	assert.True(t, resp.ProofRecorded)
	assert.Equal(t, "badge issued", resp.Message)

	pending := NewMintResponse(&Outcome{Pending: true}, "https://explorer/tx/")
	assert.False(t, pending.Success)
	assert.Empty(t, pending.ExplorerURL)
	assert.Equal(t, "issuance pending", pending.Message)
}
