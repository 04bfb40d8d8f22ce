// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scanner

import "github.com/shopspring/decimal"

// hoursPerMonth is the billing convention used across the cost math.
const hoursPerMonth = 730

// hourlyPriceUSD is on-demand Linux pricing for us-west-2, $/hr.
var hourlyPriceUSD = map[string]decimal.Decimal{
	"t3.nano":    decimal.RequireFromString("0.0052"),
	"t3.micro":   decimal.RequireFromString("0.0104"),
	"t3.small":   decimal.RequireFromString("0.0208"),
	"t3.medium":  decimal.RequireFromString("0.0416"),
	"t3.large":   decimal.RequireFromString("0.0832"),
	"t3.xlarge":  decimal.RequireFromString("0.1664"),
	"t3.2xlarge": decimal.RequireFromString("0.3328"),
	"m5.large":   decimal.RequireFromString("0.0960"),
	"m5.xlarge":  decimal.RequireFromString("0.1920"),
	"m5.2xlarge": decimal.RequireFromString("0.3840"),
	"m5.4xlarge": decimal.RequireFromString("0.7680"),
	"c5.large":   decimal.RequireFromString("0.0850"),
	"c5.xlarge":  decimal.RequireFromString("0.1700"),
	"c5.2xlarge": decimal.RequireFromString("0.3400"),
}

// downsizeMap recommends the next step down for each instance type. Types
// with no entry have nothing to recommend.
var downsizeMap = map[string]string{
	"t3.micro":   "t3.nano",
	"t3.small":   "t3.micro",
	"t3.medium":  "t3.small",
	"t3.large":   "t3.medium",
	"t3.xlarge":  "t3.large",
	"t3.2xlarge": "t3.xlarge",
	"m5.xlarge":  "t3.medium",
	"m5.2xlarge": "m5.xlarge",
	"m5.4xlarge": "m5.xlarge",
	"c5.xlarge":  "c5.large",
	"c5.2xlarge": "c5.xlarge",
}

// Recommend returns the downsize target for an instance type, or false when
// there is nothing smaller to offer.
func Recommend(instanceType string) (string, bool) {
	rec, ok := downsizeMap[instanceType]
	return rec, ok
}

// MonthlyCost returns the monthly on-demand cost for an instance type, zero
// when the type is not in the price table.
func MonthlyCost(instanceType string) decimal.Decimal {
	price, ok := hourlyPriceUSD[instanceType]
	if !ok {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(hoursPerMonth)).Round(2)
}

// costMath fills a candidate's cost fields from its current and recommended
// specs.
func costMath(c *Candidate) {
	c.CurrentCostUSD = MonthlyCost(c.CurrentSpec)
	c.ProjectedCostUSD = MonthlyCost(c.RecommendedSpec)
	c.MonthlySavingsUSD = c.CurrentCostUSD.Sub(c.ProjectedCostUSD).Round(2)
	c.AnnualSavingsUSD = c.MonthlySavingsUSD.Mul(decimal.NewFromInt(12)).Round(2)
	if c.CurrentCostUSD.IsPositive() {
		pct, _ := c.MonthlySavingsUSD.Div(c.CurrentCostUSD).Mul(decimal.NewFromInt(100)).Round(1).Float64()
		c.SavingsPct = pct
	}
}
