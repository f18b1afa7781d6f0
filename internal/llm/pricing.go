package llm

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// priceTable holds per-model pricing for cost estimation. Keys are
// matched by prefix so dated snapshots (gpt-4o-mini-2024-07-18) resolve
// to their base model. Unknown models estimate at zero cost.
var priceTable = map[string]modelPrice{
	"gpt-4o-mini":   {input: 0.15, output: 0.60},
	"gpt-4o":        {input: 2.50, output: 10.00},
	"gpt-4.1-mini":  {input: 0.40, output: 1.60},
	"gpt-4.1-nano":  {input: 0.10, output: 0.40},
	"gpt-4.1":       {input: 2.00, output: 8.00},
	"gpt-3.5-turbo": {input: 0.50, output: 1.50},
	"o3-mini":       {input: 1.10, output: 4.40},
}

// Cost estimates the USD cost of one call. Longest-prefix match keeps
// "gpt-4o-mini" from resolving to the "gpt-4o" price.
func Cost(model string, tokensIn, tokensOut int) float64 {
	var best string
	for prefix := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := priceTable[best]
	return (float64(tokensIn)*p.input + float64(tokensOut)*p.output) / 1_000_000
}
