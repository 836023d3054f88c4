package game

import (
	"testing"

	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartingFaction(t *testing.T) {
	factory := NewStaticFactory()
	for _, faction := range Factions() {
		state, err := factory.StartingFaction("p1", faction)
		require.NoError(t, err, faction)

		assert.Equal(t, "p1", state.PlayerId)
		assert.Equal(t, faction, state.Faction)
		assert.Len(t, state.Hand, StartingHandSize)
		assert.NotEmpty(t, state.Units)
		assert.Len(t, state.Crystals, 3)

		for _, card := range state.Hand {
			switch card.Kind {
			case entities.CardHero:
				require.NotNil(t, card.Hero)
				assert.Nil(t, card.Item)
			case entities.CardItem:
				require.NotNil(t, card.Item)
				assert.Nil(t, card.Hero)
			default:
				t.Fatalf("unexpected card kind %q", card.Kind)
			}
		}
		for _, unit := range state.Units {
			assert.NotEmpty(t, unit.Id)
			assert.Greater(t, unit.Health, 0)
		}
		for _, crystal := range state.Crystals {
			assert.NotEmpty(t, crystal.Id)
			assert.Greater(t, crystal.Health, 0)
		}
	}
}

func TestStartingFactionUnknown(t *testing.T) {
	factory := NewStaticFactory()
	_, err := factory.StartingFaction("p1", "Moon Cult")
	assert.ErrorIs(t, err, ErrUnknownFaction)
}

func TestStartingFactionDoesNotShareState(t *testing.T) {
	factory := NewStaticFactory()
	first, err := factory.StartingFaction("p1", "Council")
	require.NoError(t, err)
	second, err := factory.StartingFaction("p2", "Council")
	require.NoError(t, err)

	first.Units[0].Health = 0
	assert.Greater(t, second.Units[0].Health, 0)
	assert.NotEqual(t, first.Units[0].Id, second.Units[0].Id)
}

func TestStartingBoard(t *testing.T) {
	board := NewStaticFactory().StartingBoard()
	assert.Equal(t, 9, board.Width)
	assert.Equal(t, 5, board.Height)
	for _, obstacle := range board.Obstacles {
		assert.Less(t, obstacle.X, board.Width)
		assert.Less(t, obstacle.Y, board.Height)
	}
}
