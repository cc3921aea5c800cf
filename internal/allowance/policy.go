package allowance

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// Policy is the approval sizing rule for one token.
type Policy struct {
	Token    common.Address
	Symbol   string
	Decimals uint8
	Mode     domain.ApprovalPolicy
	Multiple int64
}

// ApprovalAmount returns how much to approve when required is not covered.
func (p Policy) ApprovalAmount(required *big.Int) *big.Int {
	if p.Mode == domain.ApprovalMultiple {
		return new(big.Int).Mul(required, big.NewInt(p.Multiple))
	}
	return new(big.Int).Set(required)
}

// PolicyTable maps configured tokens to their approval policy. Lookups by
// symbol are case-insensitive.
type PolicyTable struct {
	bySymbol  map[string]Policy
	byAddress map[common.Address]Policy
}

// NewPolicyTable validates tokens and indexes them by symbol and address.
func NewPolicyTable(tokens []domain.TokenConfig) (*PolicyTable, error) {
	t := &PolicyTable{
		bySymbol:  make(map[string]Policy, len(tokens)),
		byAddress: make(map[common.Address]Policy, len(tokens)),
	}
	for i, tc := range tokens {
		sym := strings.ToUpper(strings.TrimSpace(tc.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("allowance: token %d: empty symbol: %w", i, domain.ErrInvalidInput)
		}
		if tc.Address == (common.Address{}) {
			return nil, fmt.Errorf("allowance: token %s: zero address: %w", sym, domain.ErrInvalidInput)
		}
		p := Policy{Token: tc.Address, Symbol: sym, Decimals: tc.Decimals, Mode: tc.Approval, Multiple: tc.ApprovalMultiple}
		switch p.Mode {
		case "":
			p.Mode = domain.ApprovalExact
		case domain.ApprovalExact:
		case domain.ApprovalMultiple:
			if p.Multiple < 2 {
				return nil, fmt.Errorf("allowance: token %s: multiple policy needs approval_multiple >= 2, got %d: %w", sym, p.Multiple, domain.ErrInvalidInput)
			}
		default:
			return nil, fmt.Errorf("allowance: token %s: unknown approval policy %q: %w", sym, p.Mode, domain.ErrInvalidInput)
		}
		if _, dup := t.bySymbol[sym]; dup {
			return nil, fmt.Errorf("allowance: duplicate token symbol %s: %w", sym, domain.ErrInvalidInput)
		}
		if _, dup := t.byAddress[tc.Address]; dup {
			return nil, fmt.Errorf("allowance: duplicate token address %s: %w", tc.Address.Hex(), domain.ErrInvalidInput)
		}
		t.bySymbol[sym] = p
		t.byAddress[tc.Address] = p
	}
	return t, nil
}

// Lookup returns the policy for a token address.
func (t *PolicyTable) Lookup(token common.Address) (Policy, error) {
	p, ok := t.byAddress[token]
	if !ok {
		return Policy{}, fmt.Errorf("allowance: token %s not configured: %w", token.Hex(), domain.ErrInvalidInput)
	}
	return p, nil
}

// BySymbol returns the policy for a symbol.
func (t *PolicyTable) BySymbol(symbol string) (Policy, bool) {
	p, ok := t.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return p, ok
}

// Len returns the number of configured tokens.
func (t *PolicyTable) Len() int { return len(t.byAddress) }
