package risk

import "github.com/danielpatrickdp/adaptive-authz/internal/fuzzy"

// #region variables
func activityVariable() fuzzy.Variable {
	return fuzzy.Variable{
		Name: VarActivity, Min: 0, Max: 100,
		Sets: []fuzzy.TriangularSet{
			{Label: "low", Left: 0, Peak: 0, Right: 40},
			{Label: "medium", Left: 20, Peak: 50, Right: 80},
			{Label: "high", Left: 60, Peak: 100, Right: 100},
		},
	}
}

func riskVariable() fuzzy.Variable {
	return fuzzy.Variable{
		Name: VarRisk, Min: 0, Max: 100,
		Sets: []fuzzy.TriangularSet{
			{Label: "low", Left: 0, Peak: 0, Right: 50},
			{Label: "medium", Left: 25, Peak: 50, Right: 75},
			{Label: "high", Left: 50, Peak: 100, Right: 100},
		},
	}
}

// #endregion variables

// #region authorization
// AuthorizationRuleBase scores who is asking, when, and from where.
func AuthorizationRuleBase() fuzzy.RuleBase {
	timeOfDay := fuzzy.Variable{
		Name: VarTimeOfDay, Min: 0, Max: 24,
		Sets: []fuzzy.TriangularSet{
			{Label: "early", Left: 0, Peak: 0, Right: 8},
			{Label: "business", Left: 6, Peak: 13, Right: 20},
			{Label: "late", Left: 18, Peak: 24, Right: 24},
		},
	}
	location := fuzzy.Variable{
		Name: VarLocation, Min: 0, Max: 100,
		Sets: []fuzzy.TriangularSet{
			{Label: "safe", Left: 0, Peak: 0, Right: 40},
			{Label: "familiar", Left: 20, Peak: 50, Right: 80},
			{Label: "unknown", Left: 60, Peak: 100, Right: 100},
		},
	}

	return fuzzy.RuleBase{
		Inputs: []fuzzy.Variable{activityVariable(), timeOfDay, location},
		Output: riskVariable(),
		Rules: []fuzzy.Rule{
			rule("low", when(VarActivity, "low"), when(VarLocation, "safe")),
			rule("low", when(VarTimeOfDay, "business"), when(VarLocation, "safe")),
			rule("low", when(VarActivity, "medium"), when(VarTimeOfDay, "business")),
			rule("medium", when(VarLocation, "familiar")),
			rule("medium", when(VarActivity, "medium"), when(VarLocation, "unknown")),
			rule("medium", when(VarActivity, "high"), when(VarTimeOfDay, "business")),
			rule("high", when(VarActivity, "high"), when(VarTimeOfDay, "late")),
			rule("high", when(VarActivity, "high"), when(VarLocation, "unknown")),
			rule("high", when(VarLocation, "unknown"), when(VarTimeOfDay, "early")),
		},
	}
}

// #endregion authorization

// #region anomaly
// AnomalyRuleBase scores behaviour that deviates from normal operation.
func AnomalyRuleBase() fuzzy.RuleBase {
	failed := fuzzy.Variable{
		Name: VarFailedAttempts, Min: 0, Max: 10,
		Sets: []fuzzy.TriangularSet{
			{Label: "few", Left: 0, Peak: 0, Right: 3},
			{Label: "several", Left: 1, Peak: 4, Right: 7},
			{Label: "many", Left: 5, Peak: 10, Right: 10},
		},
	}
	load := fuzzy.Variable{
		Name: VarResourceLoad, Min: 0, Max: 100,
		Sets: []fuzzy.TriangularSet{
			{Label: "normal", Left: 0, Peak: 0, Right: 60},
			{Label: "elevated", Left: 40, Peak: 70, Right: 90},
			{Label: "saturated", Left: 75, Peak: 100, Right: 100},
		},
	}

	return fuzzy.RuleBase{
		Inputs: []fuzzy.Variable{failed, load},
		Output: riskVariable(),
		Rules: []fuzzy.Rule{
			rule("low", when(VarFailedAttempts, "few"), when(VarResourceLoad, "normal")),
			rule("medium", when(VarFailedAttempts, "several")),
			rule("medium", when(VarResourceLoad, "elevated")),
			rule("high", when(VarFailedAttempts, "many")),
			rule("high", when(VarResourceLoad, "saturated")),
		},
	}
}

// #endregion anomaly

// #region hybrid
// HybridRuleBase is the two-input evaluator the hybrid policy samples during
// training.
func HybridRuleBase() fuzzy.RuleBase {
	trust := fuzzy.Variable{
		Name: VarTrust, Min: 0, Max: 100,
		Sets: []fuzzy.TriangularSet{
			{Label: "low", Left: 0, Peak: 0, Right: 50},
			{Label: "medium", Left: 25, Peak: 50, Right: 75},
			{Label: "high", Left: 50, Peak: 100, Right: 100},
		},
	}

	return fuzzy.RuleBase{
		Inputs: []fuzzy.Variable{activityVariable(), trust},
		Output: riskVariable(),
		Rules: []fuzzy.Rule{
			rule("low", when(VarActivity, "low"), when(VarTrust, "high")),
			rule("low", when(VarActivity, "medium"), when(VarTrust, "high")),
			rule("medium", when(VarTrust, "medium")),
			rule("medium", when(VarActivity, "high"), when(VarTrust, "high")),
			rule("medium", when(VarActivity, "low"), when(VarTrust, "low")),
			rule("high", when(VarActivity, "high"), when(VarTrust, "low")),
			rule("high", when(VarActivity, "medium"), when(VarTrust, "low")),
		},
	}
}

// #endregion hybrid

// #region helpers
func when(variable, set string) fuzzy.Term {
	return fuzzy.Term{Variable: variable, Set: set}
}

func rule(consequent string, antecedents ...fuzzy.Term) fuzzy.Rule {
	return fuzzy.Rule{
		Antecedents: antecedents,
		Consequent:  fuzzy.Term{Variable: VarRisk, Set: consequent},
	}
}

// #endregion helpers
