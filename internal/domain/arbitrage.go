package domain

import (
	"fmt"
	"time"
)

// PricedLeg es una condición resuelta contra el snapshot actual de su mercado.
type PricedLeg struct {
	Market    Market
	Condition Condition
}

// PriceMapping valora un mapping "same" comprando YES en el venue más barato
// y NO en el venue más barato. Generaliza a N legs (ecosistemas).
//
//	minYes  = min(askYes_i)
//	minNo   = min(askNo_i)
//	cost    = minYes + minNo
//	period  = (1 - cost) / cost
//	days    = max(1, ceil((earliestClose - now) / 24h))
//	annual  = period × 365 / days
//
// Devuelve ok=false si el mapping no es "same", si faltan legs o si cost ≥ 1.
// En este último caso la oportunidad se devuelve igualmente rellena, con
// HasArbitrage=false, para diagnóstico. Un precio fuera de [0,1] es un error.
//
// Nota: period usa (1-C)/C. La variante 1 - C/C (siempre 0) se descarta.
func PriceMapping(m ConditionMapping, legs []PricedLeg, now time.Time) (ArbitrageOpportunity, bool, error) {
	if m.Relationship != RelationSame || len(legs) < 2 {
		return ArbitrageOpportunity{}, false, nil
	}

	opp := ArbitrageOpportunity{
		MappingID: m.ID,
		Legs:      make([]OpportunityLeg, 0, len(legs)),
		UpdatedAt: now,
	}

	var earliest time.Time
	for i, leg := range legs {
		yes, no := leg.Condition.BuyYes(), leg.Condition.BuyNo()
		field := fmt.Sprintf("%s.%s", leg.Market.Key(), leg.Condition.Name)
		if !ValidPrice(yes) {
			return ArbitrageOpportunity{}, false, invalidPrice(field+".buy_yes", yes)
		}
		if !ValidPrice(no) {
			return ArbitrageOpportunity{}, false, invalidPrice(field+".buy_no", no)
		}

		opp.Legs = append(opp.Legs, OpportunityLeg{
			MarketKey: leg.Market.Key(),
			Platform:  leg.Market.Platform,
			Title:     leg.Market.Title,
			Condition: leg.Condition.Name,
			BuyYes:    yes,
			BuyNo:     no,
			CloseTime: leg.Market.CloseTime,
		})

		// Empates: se queda el primer leg.
		if i == 0 || yes < opp.MinYes {
			opp.MinYes, opp.MinYesVenue = yes, leg.Market.Platform
		}
		if i == 0 || no < opp.MinNo {
			opp.MinNo, opp.MinNoVenue = no, leg.Market.Platform
		}
		if i == 0 || leg.Market.CloseTime.Before(earliest) {
			earliest = leg.Market.CloseTime
		}
	}

	opp.TotalCost = opp.MinYes + opp.MinNo
	if opp.TotalCost <= 0 {
		return ArbitrageOpportunity{}, false, invalidPrice(m.ID+".total_cost", opp.TotalCost)
	}

	opp.DaysUntilClose = DaysUntil(earliest, now)
	if opp.TotalCost >= 1.0 {
		return opp, false, nil
	}

	opp.HasArbitrage = true
	opp.PeriodReturn = (1 - opp.TotalCost) / opp.TotalCost
	opp.AnnualizedReturn = opp.PeriodReturn * (365 / float64(opp.DaysUntilClose))
	opp.ProfitOn100 = opp.ProfitOn(100)
	return opp, true, nil
}

// ResolveLegs resuelve los legs de un mapping contra un snapshot.
// ok=false si algún mercado o condición ya no existe (no es un error:
// el dato está temporalmente no disponible).
func ResolveLegs(m ConditionMapping, idx MarketIndex) ([]PricedLeg, bool) {
	legs := make([]PricedLeg, 0, len(m.Legs))
	for _, l := range m.Legs {
		market, cond, ok := idx.Lookup(l.MarketKey, l.Condition)
		if !ok {
			return nil, false
		}
		legs = append(legs, PricedLeg{Market: market, Condition: cond})
	}
	return legs, true
}
