package game

import (
	"fmt"
	"math/rand/v2"

	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/pkg/utils"
)

const (
	StartingHandSize = 6
	boardWidth       = 9
	boardHeight      = 5
	crystalCount     = 3
	crystalHealth    = 10
)

var ErrUnknownFaction = fmt.Errorf("unknown faction")

// Factory produces starting board and faction state from the static content
// tables. The session core treats it as an opaque collaborator.
type Factory interface {
	StartingFaction(playerId, faction string) (entities.FactionState, error)
	StartingBoard() entities.BoardState
}

// StaticFactory deals from the built-in content tables.
type StaticFactory struct{}

func NewStaticFactory() StaticFactory { return StaticFactory{} }

var factionDecks = map[string][]entities.Card{
	"Council": {
		hero("Warden of the Gate", 3, 5),
		hero("Sunblade Adept", 4, 3),
		hero("Aegis Sister", 2, 6),
		hero("High Arbiter", 5, 4),
		item("Scrying Orb", "REVEAL", 2),
		item("Blessed Ward", "SHIELD", 1),
		hero("Gryphon Rider", 4, 4),
		item("Banner of Dawn", "RALLY", 3),
		hero("Stonewall Golem", 1, 8),
	},
	"Dark Elves": {
		hero("Nightblade", 5, 2),
		hero("Venom Priestess", 3, 4),
		hero("Shadow Stalker", 4, 3),
		hero("Matron of Thorns", 4, 5),
		item("Widow's Kiss", "POISON", 2),
		item("Veil of Dusk", "STEALTH", 1),
		hero("Spiderling Swarm", 2, 2),
		item("Ebon Chalice", "DRAIN", 3),
		hero("Pale Executioner", 6, 3),
	},
	"Ironclad": {
		hero("Siege Engineer", 2, 5),
		hero("Cannoneer", 5, 3),
		hero("Shield Sergeant", 3, 6),
		item("Powder Keg", "BLAST", 1),
		item("Field Rations", "HEAL", 3),
		hero("Ram Crew", 4, 4),
		hero("Clockwork Sentry", 3, 3),
		item("Grappling Hook", "PULL", 2),
		hero("Iron Colossus", 6, 6),
	},
}

var factionStarters = map[string][]entities.Unit{
	"Council":    {{Name: "Footman", Attack: 2, Health: 3}, {Name: "Acolyte", Attack: 1, Health: 2}},
	"Dark Elves": {{Name: "Thrall", Attack: 2, Health: 2}, {Name: "Webspinner", Attack: 1, Health: 3}},
	"Ironclad":   {{Name: "Conscript", Attack: 2, Health: 2}, {Name: "Sapper", Attack: 1, Health: 3}},
}

func hero(name string, attack, health int) entities.Card {
	return entities.Card{Kind: entities.CardHero, Hero: &entities.HeroCard{Name: name, Attack: attack, Health: health}}
}

func item(name, effect string, charges int) entities.Card {
	return entities.Card{Kind: entities.CardItem, Item: &entities.ItemCard{Name: name, Effect: effect, Charges: charges}}
}

func (StaticFactory) StartingFaction(playerId, faction string) (entities.FactionState, error) {
	deck, ok := factionDecks[faction]
	if !ok {
		return entities.FactionState{}, fmt.Errorf("%w: %s", ErrUnknownFaction, faction)
	}

	shuffled := make([]entities.Card, len(deck))
	copy(shuffled, deck)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	units := make([]entities.Unit, len(factionStarters[faction]))
	copy(units, factionStarters[faction])
	for i := range units {
		units[i].Id = utils.GenerateUUID()
	}

	crystals := make([]entities.Crystal, crystalCount)
	for i := range crystals {
		crystals[i] = entities.Crystal{Id: utils.GenerateUUID(), Health: crystalHealth}
	}

	return entities.FactionState{
		PlayerId: playerId,
		Faction:  faction,
		Hand:     shuffled[:StartingHandSize],
		Units:    units,
		Crystals: crystals,
	}, nil
}

func (StaticFactory) StartingBoard() entities.BoardState {
	return entities.BoardState{
		Width:  boardWidth,
		Height: boardHeight,
		Obstacles: []entities.Position{
			{X: 4, Y: 1},
			{X: 4, Y: 3},
		},
	}
}

// Factions lists the selectable faction names.
func Factions() []string {
	names := make([]string, 0, len(factionDecks))
	for name := range factionDecks {
		names = append(names, name)
	}
	return names
}
