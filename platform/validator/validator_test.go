package validator

import "testing"

type intake struct {
	State    string `validate:"required,au_state"`
	Postcode string `validate:"required,au_postcode"`
}

func TestCustomRules(t *testing.T) {
	val := New()

	if err := val.Struct(intake{State: "QLD", Postcode: "4000"}); err != nil {
		t.Fatalf("expected valid intake, got %v", err)
	}
	if err := val.Struct(intake{State: "QUEENSLAND", Postcode: "4000"}); err == nil {
		t.Error("expected invalid state to fail")
	}
	if err := val.Struct(intake{State: "QLD", Postcode: "40000"}); err == nil {
		t.Error("expected five digit postcode to fail")
	}
}
