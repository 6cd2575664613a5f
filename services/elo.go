// services/elo.go
package services

import "math"

// boundScore clamps and rounds a score according to the Elo constants.
func boundScore(score float64, constants EloConstants) float64 {
	if constants.MaxScore != nil && score > *constants.MaxScore {
		return *constants.MaxScore
	}
	if constants.MinScore != nil && score < *constants.MinScore {
		return *constants.MinScore
	}

	if constants.RoundPlaces == nil {
		return score
	}
	multiplier := math.Pow(10, float64(*constants.RoundPlaces))
	return math.Round(score*multiplier) / multiplier
}

// eloProbabilityOfWinning returns the expected result for a player against an
// opponent given their current scores.
func eloProbabilityOfWinning(playerScore, opponentScore float64, constants EloConstants) float64 {
	denominator := 1 + math.Pow(
		constants.ExponentBase,
		(opponentScore-playerScore)/constants.ExponentDenominator,
	)
	return 1 / denominator
}

// eloExecuteMatch simulates a match between player and opponent and returns
// their updated scores. result is from the player's perspective: 1 win,
// 0 loss, 0.5 tie.
func eloExecuteMatch(playerScore, opponentScore, result float64, constants EloConstants) (float64, float64) {
	resultFromOpponentPerspective := 1 - result

	playerProbability := eloProbabilityOfWinning(playerScore, opponentScore, constants)
	newPlayerScore := boundScore(playerScore+constants.KFactor*(result-playerProbability), constants)

	opponentProbability := eloProbabilityOfWinning(opponentScore, playerScore, constants)
	newOpponentScore := boundScore(opponentScore+constants.KFactor*(resultFromOpponentPerspective-opponentProbability), constants)

	return newPlayerScore, newOpponentScore
}
