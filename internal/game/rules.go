package game

import "github.com/crystalfall/crystalfall/internal/domains/entities"

// OverFunc decides whether a snapshot terminates the session. A nil result
// means play continues.
type OverFunc func(entities.TurnSnapshot) *entities.GameOverRecord

// EvaluateGameOver is the built-in termination predicate: a side loses when
// all of its crystals are destroyed or all of its units are defeated.
// Concession is a protocol event handled by the coordinator, not a board
// condition.
func EvaluateGameOver(snapshot entities.TurnSnapshot) *entities.GameOverRecord {
	if len(snapshot.Factions) != 2 {
		return nil
	}
	for i, faction := range snapshot.Factions {
		winner := snapshot.Factions[1-i].PlayerId
		if !faction.CrystalsAlive() {
			return &entities.GameOverRecord{
				Condition: entities.WinConditionCrystals,
				WinnerId:  winner,
			}
		}
		if !faction.UnitsAlive() {
			return &entities.GameOverRecord{
				Condition: entities.WinConditionUnits,
				WinnerId:  winner,
			}
		}
	}
	return nil
}
