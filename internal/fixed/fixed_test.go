package fixed

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1"},
		{"-1", "-1"},
		{"0.5", "0.5"},
		{"-0.25", "-0.25"},
		{"+3.75", "3.75"},
		{"15", "15"},
		{".5", "0.5"},
		{"2.", "2"},
		{"0.0000152587890625", "0.0000152587890625"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "-", ".", "abc", "1.2.3", "1e5", "1.-5", "999999999999999999999"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("Parse(%q) expected ErrInvalidNumber, got %v", in, err)
		}
	}
}

func TestParseRoundsToNearest(t *testing.T) {
	got := MustParse("-9.81")
	if got.Raw() != -642908 {
		t.Fatalf("expected -9.81 to round to raw -642908, got %d", got.Raw())
	}
}

func TestArithmetic(t *testing.T) {
	a := FromInt(3)
	b := MustParse("1.5")
	if got := a.Add(b); got != MustParse("4.5") {
		t.Fatalf("3 + 1.5 = %s", got)
	}
	if got := a.Sub(b); got != b {
		t.Fatalf("3 - 1.5 = %s", got)
	}
	if got := a.Mul(b); got != MustParse("4.5") {
		t.Fatalf("3 * 1.5 = %s", got)
	}
	if got := a.Mul(b.Neg()); got != MustParse("-4.5") {
		t.Fatalf("3 * -1.5 = %s", got)
	}
	q, err := a.Div(b)
	if err != nil || q != FromInt(2) {
		t.Fatalf("3 / 1.5 = %s, %v", q, err)
	}
}

func TestDivideByZero(t *testing.T) {
	if _, err := One.Div(Zero); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
	if _, err := FromRatio(1, 0); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero from FromRatio, got %v", err)
	}
}

func TestSaturation(t *testing.T) {
	if got := MaxValue.Add(One); got != MaxValue {
		t.Fatalf("expected saturation at MaxValue, got %s", got)
	}
	if got := MinValue.Sub(One); got != MinValue {
		t.Fatalf("expected saturation at MinValue, got %s", got)
	}
	if got := MaxValue.Mul(FromInt(2)); got != MaxValue {
		t.Fatalf("expected product to saturate, got %s", got)
	}
	if got := MinValue.Neg(); got != MaxValue {
		t.Fatalf("expected -MinValue to saturate, got %s", got)
	}
	if got := FromInt(1 << 50); got != MaxValue {
		t.Fatalf("expected FromInt to saturate, got %s", got)
	}
}

func TestFloorAndClamp(t *testing.T) {
	if got := MustParse("-0.5").Floor(); got != -1 {
		t.Fatalf("floor(-0.5) = %d", got)
	}
	if got := MustParse("2.75").Floor(); got != 2 {
		t.Fatalf("floor(2.75) = %d", got)
	}
	if got := FromInt(5).Clamp(One.Neg(), One); got != One {
		t.Fatalf("clamp(5) = %s", got)
	}
}

func TestTextRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.Int64Range(-1<<62, 1<<62).Draw(t, "raw")
		v := FromRaw(raw)
		text, err := v.MarshalText()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Fixed
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if back != v {
			t.Fatalf("round trip of %d via %q produced %d", raw, text, back.Raw())
		}
	})
}

func TestAlgebraProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := FromRaw(rapid.Int64Range(-1<<30, 1<<30).Draw(t, "a"))
		b := FromRaw(rapid.Int64Range(-1<<30, 1<<30).Draw(t, "b"))
		if a.Add(b) != b.Add(a) {
			t.Fatalf("addition not commutative for %s, %s", a, b)
		}
		if a.Mul(b) != b.Mul(a) {
			t.Fatalf("multiplication not commutative for %s, %s", a, b)
		}
		if a.Add(b).Sub(b) != a {
			t.Fatalf("(a+b)-b != a for %s, %s", a, b)
		}
		if a.Mul(One) != a {
			t.Fatalf("a*1 != a for %s", a)
		}
		if b.Abs().GreaterEq(One) {
			q, err := a.Mul(b).Div(b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Sub(a).Abs().Greater(FromRaw(2)) {
				t.Fatalf("(a*b)/b drifted too far: a=%s b=%s q=%s", a, b, q)
			}
		}
	})
}
