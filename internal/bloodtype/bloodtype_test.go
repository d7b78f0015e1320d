package bloodtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	bt, err := Parse("A+")
	require.NoError(t, err)
	assert.Equal(t, APos, bt)

	_, err = Parse("C+")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestCompatibleDonors_APos(t *testing.T) {
	donors := CompatibleDonors(APos)
	assert.ElementsMatch(t, []BloodType{ONeg, OPos, ANeg, APos}, donors)
}

func TestCompatibleDonors_UniversalEdges(t *testing.T) {
	// O- 可供给所有血型
	assert.Len(t, Recipients(ONeg), 8)

	// AB+ 可接受所有血型
	assert.Len(t, CompatibleDonors(ABPos), 8)

	// AB+ 只能供给 AB+
	assert.Equal(t, []BloodType{ABPos}, Recipients(ABPos))
}

// 相容图与逆图完全对称：R ∈ Recipients(D) ⇔ D ∈ CompatibleDonors(R)
func TestCompatibilityGraph_SymmetricComplete(t *testing.T) {
	for _, donor := range All {
		for _, recipient := range All {
			forward := CanDonate(donor, recipient)

			reverse := false
			for _, d := range CompatibleDonors(recipient) {
				if d == donor {
					reverse = true
					break
				}
			}

			assert.Equal(t, forward, reverse,
				"asymmetry between %s -> %s", donor, recipient)
		}
	}
}

func TestRarityScore(t *testing.T) {
	assert.Equal(t, 1.00, RarityScore(ABNeg))
	assert.Equal(t, 0.20, RarityScore(OPos))

	assert.True(t, IsRare(ONeg))
	assert.True(t, IsRare(ABNeg))
	assert.False(t, IsRare(APos))
	assert.False(t, IsRare(OPos))
}
