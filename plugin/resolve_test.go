package plugin

import "testing"

func graphOf(entries map[string][]string) map[string]Info {
	g := make(map[string]Info, len(entries))
	for name, requires := range entries {
		g[name] = Info{Name: name, Requires: requires}
	}
	return g
}

func TestResolveLinearChain(t *testing.T) {
	// S1: A requires B, B requires C, C leaf. Targets [A] => [C, B, A].
	g := graphOf(map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": nil,
	})

	res, err := Resolve(g, []string{"A"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"C", "B", "A"}
	if len(res.Order) != len(want) {
		t.Fatalf("Order = %v, want %v", res.Order, want)
	}
	for i, name := range want {
		if res.Order[i] != name {
			t.Fatalf("Order = %v, want %v", res.Order, want)
		}
	}
}

func TestResolveCircularDependency(t *testing.T) {
	// S2: A requires B, B requires A.
	g := graphOf(map[string][]string{
		"A": {"B"},
		"B": {"A"},
	})

	_, err := Resolve(g, []string{"A"})
	if err == nil {
		t.Fatal("expected circular-dependency error")
	}
}

func TestResolveMissingRequiredIsWarningNotFatal(t *testing.T) {
	g := graphOf(map[string][]string{
		"A": {"ghost"},
	})

	res, err := Resolve(g, []string{"A"})
	if err != nil {
		t.Fatalf("Resolve should not fail on missing required dependency: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", res.Warnings)
	}
	if len(res.Order) != 1 || res.Order[0] != "A" {
		t.Fatalf("Order = %v, want [A]", res.Order)
	}
}

func TestResolveRespectsEdgeOrdering(t *testing.T) {
	g := graphOf(map[string][]string{
		"A": {"B"},
		"B": nil,
	})

	res, err := Resolve(g, []string{"A"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	idxB, idxA := -1, -1
	for i, name := range res.Order {
		switch name {
		case "B":
			idxB = i
		case "A":
			idxA = i
		}
	}
	if idxB == -1 || idxA == -1 || idxB > idxA {
		t.Fatalf("B must precede A in %v", res.Order)
	}
}
