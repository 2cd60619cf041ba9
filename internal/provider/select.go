package provider

import "fmt"

// autoOrder is the provider preference when the configuration says "auto".
var autoOrder = []string{NameAnthropic, NameClaudeCLI}

// Defaults returns the built-in providers: the Anthropic API, keyed from
// the environment, and the claude CLI found on PATH.
func Defaults(model string) []Provider {
	return []Provider{
		NewAnthropicProvider("", model),
		NewClaudeCLIProvider(""),
	}
}

// Select picks the provider named by want from candidates. "auto" (or "")
// takes the first available one in autoOrder; "none" always fails with
// ErrUnavailable.
func Select(want string, candidates ...Provider) (Provider, error) {
	byName := make(map[string]Provider, len(candidates))
	for _, p := range candidates {
		byName[p.Name()] = p
	}

	switch want {
	case NameNone:
		return nil, fmt.Errorf("%w: disabled by configuration", ErrUnavailable)
	case NameAuto, "":
		for _, name := range autoOrder {
			if p, ok := byName[name]; ok && p.Available() {
				return p, nil
			}
		}
		return nil, ErrUnavailable
	}

	p, ok := byName[want]
	switch {
	case !ok:
		return nil, fmt.Errorf("unknown text provider %q", want)
	case !p.Available():
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, want)
	}
	return p, nil
}
