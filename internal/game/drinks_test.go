package game

import (
	"testing"

	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFormatDrinkDescription(t *testing.T) {
	cases := map[int]string{
		0:  "0 sips",
		1:  "1 sip",
		19: "19 sips",
		20: "a full drink",
		21: "a full drink and 1 sip",
		40: "2 full drinks",
		45: "2 full drinks and 5 sips",
	}
	for sips, want := range cases {
		assert.Equal(t, want, FormatDrinkDescription(sips), "sips=%d", sips)
	}
}

func TestScaledQuantityRoundsAwayFromZero(t *testing.T) {
	assert.Equal(t, 3, ScaledQuantity(3, 1))
	assert.Equal(t, 2, ScaledQuantity(3, 0.5))  // 1.5 -> 2
	assert.Equal(t, 3, ScaledQuantity(5, 0.5))  // 2.5 -> 3
	assert.Equal(t, -2, ScaledQuantity(-3, 0.5)) // -1.5 -> -2
	assert.Equal(t, 6, ScaledQuantity(4, 1.5))
}

func TestFinishDrinkRule(t *testing.T) {
	r := FinishDrinkRule(models.PlayerInfo{Name: "Ana", DrinkModifier: 1, DrinkCount: 17})
	assert.Equal(t, models.Individual, r.PunishmentType)
	assert.Equal(t, 3, r.PunishmentQuantity)

	r = FinishDrinkRule(models.PlayerInfo{Name: "Bo", DrinkModifier: 0.5, DrinkCount: 25})
	assert.Equal(t, 30, r.PunishmentQuantity)

	// A fresh drink is a whole one.
	r = FinishDrinkRule(models.PlayerInfo{Name: "Cy", DrinkModifier: 2, DrinkCount: 40})
	assert.Equal(t, 10, r.PunishmentQuantity)
}

func TestFinishDrinkRuleScalesBackToRemainingSips(t *testing.T) {
	p := models.PlayerInfo{Name: "Bo", DrinkModifier: 0.5, DrinkCount: 25}
	r := FinishDrinkRule(p)
	assert.Equal(t, 15, ScaledQuantity(r.PunishmentQuantity, p.DrinkModifier))
	assert.Equal(t, "Bo finishes their drink: 15 sips", Describe(r, &p))
}

func TestDescribe(t *testing.T) {
	rule := models.Rule{PunishmentType: models.Individual, PunishmentDescription: "{0} drinks {1}", PunishmentQuantity: 10}
	p := models.PlayerInfo{Name: "Ana", DrinkModifier: 2}
	assert.Equal(t, "Ana drinks a full drink", Describe(rule, &p))

	rule.PunishmentType = models.Group
	assert.Equal(t, "Everyone drinks 10 sips", Describe(rule, nil))

	rule.PunishmentType = models.AllButOne
	assert.Equal(t, "Everyone but Ana drinks 10 sips", Describe(rule, &p))
}
