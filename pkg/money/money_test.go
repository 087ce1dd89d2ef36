package money

import "testing"

func TestArithmetic(t *testing.T) {
	t.Parallel()

	a := New(100)
	b := New(75)

	if got := a.Mul(b); !got.Equal(New(7500)) {
		t.Errorf("Mul = %v, want 7500", got)
	}
	if got := a.Add(b).Sub(New(25)); !got.Equal(New(150)) {
		t.Errorf("Add/Sub = %v, want 150", got)
	}
	if got := a.MulFloat(0.30); !got.Equal(New(30)) {
		t.Errorf("MulFloat = %v, want 30", got)
	}
}

func TestDivByZero(t *testing.T) {
	t.Parallel()

	if _, err := New(10).Div(Zero); err != ErrDivisionByZero {
		t.Errorf("Div by zero err = %v, want ErrDivisionByZero", err)
	}
	got, err := New(150).Div(New(4))
	if err != nil {
		t.Fatalf("Div: %v", err)
	}
	if got.Round(2).String() != "37.50" {
		t.Errorf("Div = %v, want 37.50", got)
	}
}

func TestBDCoercion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want Money
	}{
		{"nil", nil, Zero},
		{"empty string", "", Zero},
		{"garbage", "abc", Zero},
		{"string", "123.45", FromFloat(123.45)},
		{"float", 1.5, FromFloat(1.5)},
		{"int", 42, New(42)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BD(tt.in); !got.Equal(tt.want) {
				t.Errorf("BD(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExactness(t *testing.T) {
	t.Parallel()

	// 0.1 + 0.2 must be exactly 0.3 in the decimal domain.
	got := FromFloat(0.1).Add(FromFloat(0.2))
	if !got.Equal(FromFloat(0.3)) {
		t.Errorf("0.1 + 0.2 = %v, want 0.3", got)
	}
}

func TestComparisonsAndFormat(t *testing.T) {
	t.Parallel()

	if !New(-5).IsNegative() || New(0).IsPositive() || !Zero.IsZero() {
		t.Error("sign predicates wrong")
	}
	if New(3).Max(New(7)).Cmp(New(7)) != 0 {
		t.Error("Max wrong")
	}
	if New(3).Min(New(7)).Cmp(New(3)) != 0 {
		t.Error("Min wrong")
	}
	if s := FromFloat(101460).String(); s != "101460.00" {
		t.Errorf("String = %q, want 101460.00", s)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	m := FromFloat(99.9)
	b, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var back Money
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(m) {
		t.Errorf("round trip = %v, want %v", back, m)
	}
}
