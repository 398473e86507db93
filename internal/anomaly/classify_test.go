package anomaly

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestClassifyNilZScoreNeverSuspicious(t *testing.T) {
	decision := Classify(Result{}, DefaultOptions())
	if decision.Suspicious || decision.AlertWorthy {
		t.Fatalf("nil z-score must never be suspicious, got %+v", decision)
	}
}

func TestClassifySmallMove(t *testing.T) {
	z := dec("-0.10")
	c := dec("0.9750")
	decision := Classify(Result{ZScore: &z, Confidence: &c}, DefaultOptions())
	if decision.Suspicious {
		t.Fatalf("|z|=0.10 should not be suspicious, got %+v", decision)
	}
}

func TestClassifyDropUnderDefaults(t *testing.T) {
	z := dec("-21.42")
	c := dec("0")
	decision := Classify(Result{ZScore: &z, Confidence: &c}, DefaultOptions())
	if !decision.Suspicious {
		t.Fatal("|z|=21.42 must be suspicious")
	}
	if !decision.AlertWorthy {
		t.Fatal("a drop must be alert-worthy under drop_only")
	}
	if decision.Type != AlertPriceDrop {
		t.Fatalf("expected price_drop, got %s", decision.Type)
	}
}

func TestClassifySpikeRespectsDirectionPolicy(t *testing.T) {
	z := dec("3.5")
	c := dec("0.1250")
	res := Result{ZScore: &z, Confidence: &c}

	decision := Classify(res, DefaultOptions())
	if !decision.Suspicious || decision.AlertWorthy {
		t.Fatalf("spike under drop_only: suspicious yes, worthy no; got %+v", decision)
	}
	if decision.Type != AlertPriceSpike {
		t.Fatalf("expected price_spike, got %s", decision.Type)
	}

	opts := DefaultOptions()
	opts.Direction = DirectionSpikeOnly
	if d := Classify(res, opts); !d.AlertWorthy {
		t.Fatalf("spike under spike_only must be worthy, got %+v", d)
	}

	opts.Direction = DirectionBoth
	if d := Classify(res, opts); !d.AlertWorthy {
		t.Fatalf("spike under both must be worthy, got %+v", d)
	}
}

func TestClassifyConfidenceFloor(t *testing.T) {
	// |z| below the z threshold but confidence under a raised floor.
	z := dec("-1.50")
	c := dec("0.6250")
	opts := DefaultOptions()
	opts.ConfidenceFloor = dec("0.7")

	decision := Classify(Result{ZScore: &z, Confidence: &c}, opts)
	if !decision.Suspicious {
		t.Fatal("confidence under the floor must be suspicious")
	}
	if decision.Type != AlertPriceDrop {
		t.Fatalf("expected price_drop, got %s", decision.Type)
	}
}

func TestParseDirectionPolicy(t *testing.T) {
	for _, valid := range []string{"drop_only", "spike_only", "both"} {
		if _, err := ParseDirectionPolicy(valid); err != nil {
			t.Fatalf("%q should parse: %v", valid, err)
		}
	}
	if _, err := ParseDirectionPolicy("sideways"); err == nil {
		t.Fatal("unknown policy should fail to parse")
	}
}
