package token

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// Info identifies one token deployment on one chain.
type Info struct {
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
}

// Map holds the capability-server token inventory, keyed by upper-cased
// symbol. A symbol may resolve to several chains.
type Map map[string][]Info

func (m Map) Candidates(symbol string) []Info {
	return m[strings.ToUpper(strings.TrimSpace(symbol))]
}

// Add registers a candidate, replacing an existing entry for the same chain.
func (m Map) Add(info Info) {
	key := strings.ToUpper(strings.TrimSpace(info.Symbol))
	if key == "" {
		return
	}
	for i, existing := range m[key] {
		if existing.ChainID == info.ChainID {
			m[key][i] = info
			return
		}
	}
	m[key] = append(m[key], info)
}

var chainNameByID = map[int64]string{
	1:     "Ethereum",
	10:    "Optimism",
	56:    "BSC",
	137:   "Polygon",
	8453:  "Base",
	42161: "Arbitrum",
	43114: "Avalanche",
}

var chainIDByAlias = map[string]int64{
	"ethereum":  1,
	"mainnet":   1,
	"optimism":  10,
	"op":        10,
	"bsc":       56,
	"bnb":       56,
	"polygon":   137,
	"matic":     137,
	"base":      8453,
	"arbitrum":  42161,
	"arb":       42161,
	"avalanche": 43114,
	"avax":      43114,
}

// ChainName returns a display name for a chain id.
func ChainName(chainID int64) string {
	if name, ok := chainNameByID[chainID]; ok {
		return name
	}
	return fmt.Sprintf("chain %d", chainID)
}

// ParseChain normalizes a chain name, alias, eip155 identifier or bare
// numeric id to a canonical chain id.
func ParseChain(input string) (int64, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return 0, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if id, ok := chainIDByAlias[norm]; ok {
		return id, nil
	}
	if rest, ok := strings.CutPrefix(norm, "eip155:"); ok {
		norm = rest
	}
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// Resolution is the outcome of a lookup: either a single resolved token or
// a disambiguation message that must be surfaced to the user.
type Resolution struct {
	Token          Info
	Disambiguation string
}

func (r Resolution) NeedsInput() bool { return r.Disambiguation != "" }

// Resolve maps a symbol and an optional chain name to a single token.
// With no chain and multiple candidates the caller gets a numbered
// disambiguation message instead of a silently-picked chain.
func (m Map) Resolve(symbol, chain string) (Resolution, error) {
	candidates := m.Candidates(symbol)
	if len(candidates) == 0 {
		return Resolution{}, clierr.New(clierr.CodeTokenNotFound, fmt.Sprintf("token %s is not supported", strings.ToUpper(strings.TrimSpace(symbol))))
	}

	if strings.TrimSpace(chain) != "" {
		chainID, err := ParseChain(chain)
		if err != nil {
			return Resolution{}, err
		}
		for _, c := range candidates {
			if c.ChainID == chainID {
				return Resolution{Token: c}, nil
			}
		}
		return Resolution{}, clierr.New(clierr.CodeTokenNotFound, fmt.Sprintf("token %s is not available on %s", strings.ToUpper(strings.TrimSpace(symbol)), ChainName(chainID)))
	}

	if len(candidates) == 1 {
		return Resolution{Token: candidates[0]}, nil
	}
	return Resolution{Disambiguation: disambiguationMessage(symbol, candidates)}, nil
}

// ResolvePair resolves both legs of an operation, jointly inferring a common
// chain when neither leg names one. Per-token resolution would force the
// user to specify the chain twice even when only one common chain exists.
func (m Map) ResolvePair(fromSymbol, toSymbol, chain string, defaultChainID int64) (Info, Info, *Resolution, error) {
	if strings.TrimSpace(chain) != "" {
		from, err := m.Resolve(fromSymbol, chain)
		if err != nil {
			return Info{}, Info{}, nil, err
		}
		to, err := m.Resolve(toSymbol, chain)
		if err != nil {
			return Info{}, Info{}, nil, err
		}
		return from.Token, to.Token, nil, nil
	}

	fromCandidates := m.Candidates(fromSymbol)
	if len(fromCandidates) == 0 {
		return Info{}, Info{}, nil, clierr.New(clierr.CodeTokenNotFound, fmt.Sprintf("token %s is not supported", strings.ToUpper(strings.TrimSpace(fromSymbol))))
	}
	toCandidates := m.Candidates(toSymbol)
	if len(toCandidates) == 0 {
		return Info{}, Info{}, nil, clierr.New(clierr.CodeTokenNotFound, fmt.Sprintf("token %s is not supported", strings.ToUpper(strings.TrimSpace(toSymbol))))
	}

	common := intersectChains(fromCandidates, toCandidates)
	if len(common) == 0 {
		res := Resolution{Disambiguation: disambiguationMessage(fromSymbol, fromCandidates) + "\n" + disambiguationMessage(toSymbol, toCandidates)}
		return Info{}, Info{}, &res, nil
	}

	chainID := common[0]
	for _, c := range common {
		if c == defaultChainID {
			chainID = c
			break
		}
	}

	from, _ := pickByChain(fromCandidates, chainID)
	to, _ := pickByChain(toCandidates, chainID)
	return from, to, nil, nil
}

func pickByChain(candidates []Info, chainID int64) (Info, bool) {
	for _, c := range candidates {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return Info{}, false
}

func intersectChains(a, b []Info) []int64 {
	inA := make(map[int64]struct{}, len(a))
	for _, c := range a {
		inA[c.ChainID] = struct{}{}
	}
	out := make([]int64, 0)
	seen := make(map[int64]struct{})
	for _, c := range b {
		if _, ok := inA[c.ChainID]; !ok {
			continue
		}
		if _, dup := seen[c.ChainID]; dup {
			continue
		}
		seen[c.ChainID] = struct{}{}
		out = append(out, c.ChainID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func disambiguationMessage(symbol string, candidates []Info) string {
	sorted := make([]Info, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChainID < sorted[j].ChainID })

	var b strings.Builder
	fmt.Fprintf(&b, "%s exists on multiple chains. Please specify one:", strings.ToUpper(strings.TrimSpace(symbol)))
	for i, c := range sorted {
		fmt.Fprintf(&b, "\n%d. %s (chain %d)", i+1, ChainName(c.ChainID), c.ChainID)
	}
	return b.String()
}
