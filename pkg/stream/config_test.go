package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration_StartingCursor(t *testing.T) {
	assert.Nil(t, testConfig(0).StartingCursor())

	c := testConfig(1)
	require.NotNil(t, c.StartingCursor())
	assert.Equal(t, uint64(0), c.StartingCursor().OrderKey)

	assert.Equal(t, uint64(499), testConfig(500).StartingCursor().OrderKey)
}

func TestConfiguration_WithStartingBlockCopies(t *testing.T) {
	base := testConfig(10)
	next := base.WithStartingBlock(20)

	assert.Equal(t, uint64(10), base.StartingBlock)
	assert.Equal(t, uint64(20), next.StartingBlock)

	next.Filter.Events[0].Keys = append(next.Filter.Events[0].Keys, testContract)
	assert.Empty(t, base.Filter.Events[0].Keys)
}

func TestConfiguration_Validate(t *testing.T) {
	require.NoError(t, testConfig(0).Validate())
	require.NoError(t, NewConfiguration(0, FinalityAccepted, HeaderFull, testContract).Validate())

	tests := map[string]Configuration{
		"no filters":     NewConfiguration(0, FinalityPending, HeaderWeak),
		"zero batch":     testConfig(0).WithBatchSize(0),
		"finalized only": NewConfiguration(0, FinalityFinalized, HeaderWeak, testContract),
		"bad header":     NewConfiguration(0, FinalityPending, HeaderMode("none"), testContract),
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, cfg.Validate(), ErrStreamSetup)
		})
	}
}

func TestParseFinality(t *testing.T) {
	f, err := ParseFinality("accepted")
	require.NoError(t, err)
	assert.Equal(t, FinalityAccepted, f)

	_, err = ParseFinality("finalized")
	require.Error(t, err)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork(" Sepolia ")
	require.NoError(t, err)
	assert.Equal(t, Sepolia, n)
	assert.Equal(t, "sepolia.starknet.a5a.ch:443", n.Endpoint())
	assert.Equal(t, "mainnet.starknet.a5a.ch:443", Mainnet.Endpoint())

	_, err = ParseNetwork("goerli")
	require.EqualError(t, err, "invalid network name: goerli")
}
