package game

import (
	"fmt"
	"math"
	"strings"

	"github.com/jason-s-yu/sipsync/internal/models"
)

// SipsPerDrink is how many sips make a full drink.
const SipsPerDrink = 20

// ScaledQuantity is the quantity a player actually drinks for a rule:
// quantity times their modifier, rounded half away from zero. The rule's
// stored quantity is never changed.
func ScaledQuantity(quantity int, modifier float64) int {
	return int(math.Round(float64(quantity) * modifier))
}

// FormatDrinkDescription renders a sip count for people, e.g. "5 sips",
// "a full drink" or "2 full drinks and 5 sips".
func FormatDrinkDescription(sips int) string {
	full, rest := sips/SipsPerDrink, sips%SipsPerDrink
	if full == 0 {
		return pluralSips(rest)
	}

	var b strings.Builder
	if full == 1 {
		b.WriteString("a full drink")
	} else {
		fmt.Fprintf(&b, "%d full drinks", full)
	}
	if rest != 0 {
		b.WriteString(" and ")
		b.WriteString(pluralSips(rest))
	}
	return b.String()
}

func pluralSips(n int) string {
	if n == 1 {
		return "1 sip"
	}
	return fmt.Sprintf("%d sips", n)
}

// FinishDrinkRule builds the Individual rule that makes player finish the
// drink they are on. The quantity is pre-divided by the modifier so that,
// once scaled for presentation, it comes back to the sips left.
func FinishDrinkRule(player models.PlayerInfo) models.Rule {
	desired := SipsPerDrink - (player.DrinkCount % SipsPerDrink)
	modifier := player.DrinkModifier
	if modifier <= 0 {
		modifier = 1
	}
	return models.Rule{
		PunishmentType:        models.Individual,
		RuleDescription:       "Finish your drink",
		PunishmentDescription: "{0} finishes their drink: {1}",
		PunishmentQuantity:    int(math.Round(float64(desired) / modifier)),
	}
}

// Describe fills a rule's punishment template. {0} becomes the player's
// name (or "Everyone" without one) and {1} the scaled quantity in words.
func Describe(rule models.Rule, player *models.PlayerInfo) string {
	name, modifier := "Everyone", 1.0
	if player != nil {
		name, modifier = player.Name, player.DrinkModifier
	}
	if rule.PunishmentType == models.AllButOne && player != nil {
		name = "Everyone but " + player.Name
		modifier = 1
	}
	qty := FormatDrinkDescription(ScaledQuantity(rule.PunishmentQuantity, modifier))
	r := strings.NewReplacer("{0}", name, "{1}", qty)
	return r.Replace(rule.PunishmentDescription)
}
