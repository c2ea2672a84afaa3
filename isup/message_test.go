package isup

import "testing"

func TestDigitsRoundTripEven(t *testing.T) {
	got := UnpackDigits(PackDigits("15551234"))
	if got != "15551234" {
		t.Fatalf("got %q, want 15551234", got)
	}
}

func TestDigitsRoundTripOdd(t *testing.T) {
	got := UnpackDigits(PackDigits("1555123"))
	if got != "1555123" {
		t.Fatalf("got %q, want 1555123", got)
	}
}

func TestMessageRoundTripIAM(t *testing.T) {
	m := Message{
		Type:     IAM,
		CIC:      42,
		Fixed:    []byte{0x00},
		Variable: [][]byte{calledPartyParam("15551234")},
		Optional: []Param{{Code: ParamCallingNumber, Value: callingPartyParam("15550000")}},
	}
	buf, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.CIC != 42 || got.Type != IAM {
		t.Fatalf("got %+v", got)
	}
	if len(got.Variable) != 1 {
		t.Fatalf("expected 1 variable part, got %d", len(got.Variable))
	}
	digits := UnpackDigits(got.Variable[0][2:])
	if digits != "15551234" {
		t.Fatalf("called digits = %q, want 15551234", digits)
	}
	if len(got.Optional) != 1 || got.Optional[0].Code != ParamCallingNumber {
		t.Fatalf("expected calling number optional, got %+v", got.Optional)
	}
}

func TestMessageRoundTripRELNoOptional(t *testing.T) {
	m := Message{Type: REL, CIC: 7, Variable: [][]byte{{byte(CauseNormalClearing)}}}
	buf, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != REL || got.CIC != 7 || len(got.Optional) != 0 {
		t.Fatalf("got %+v", got)
	}
	if got.Variable[0][0] != byte(CauseNormalClearing) {
		t.Fatalf("cause = %d, want %d", got.Variable[0][0], CauseNormalClearing)
	}
}

func TestMessageRoundTripRLCNoFieldsAtAll(t *testing.T) {
	m := Message{Type: RLC, CIC: 7}
	buf, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != RLC || got.CIC != 7 {
		t.Fatalf("got %+v", got)
	}
}
