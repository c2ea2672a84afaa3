package tcap

import "testing"

func TestPackageRoundTripBeginWithInvoke(t *testing.T) {
	pkg := Package{
		Type:    Begin,
		LocalID: 0xAABBCCDD,
		Dialogue: Dialogue{ApplicationContext: []byte{1, 2, 3}},
		Components: []Component{
			{Type: Invoke, InvokeID: 1, OperationID: 45, Class: SuccessOrFailureReport, Parameters: []byte("params")},
		},
	}
	raw := Marshal(ITU, pkg)
	got, err := Unmarshal(ITU, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != Begin || got.LocalID != 0xAABBCCDD || got.HasRemote {
		t.Fatalf("got %+v", got)
	}
	if len(got.Components) != 1 || got.Components[0].OperationID != 45 {
		t.Fatalf("components = %+v", got.Components)
	}
	if string(got.Components[0].Parameters) != "params" {
		t.Fatalf("parameters = %q", got.Components[0].Parameters)
	}
}

func TestPackageRoundTripContinueWithBothIDs(t *testing.T) {
	pkg := Package{Type: Continue, LocalID: 7, RemoteID: 9, HasRemote: true}
	raw := Marshal(ANSI, pkg)
	got, err := Unmarshal(ANSI, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.LocalID != 7 || got.RemoteID != 9 || !got.HasRemote {
		t.Fatalf("got %+v", got)
	}
}

func TestPackageRoundTripAbort(t *testing.T) {
	pkg := Package{Type: Abort, LocalID: 1, RemoteID: 2, HasRemote: true, Abort: &Problem{Category: TransactionProblem, Code: 1}}
	raw := Marshal(ITU, pkg)
	got, err := Unmarshal(ITU, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Abort == nil || got.Abort.Code != 1 {
		t.Fatalf("got %+v", got.Abort)
	}
}

func TestPackageRoundTripRejectComponent(t *testing.T) {
	pkg := Package{
		Type: End,
		LocalID: 3, RemoteID: 4, HasRemote: true,
		Components: []Component{
			{Type: RejectComponent, InvokeID: 2, Problem: Problem{Category: TransactionProblem, Code: 2}},
		},
	}
	raw := Marshal(ITU, pkg)
	got, err := Unmarshal(ITU, raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Components) != 1 || got.Components[0].Type != RejectComponent {
		t.Fatalf("got %+v", got.Components)
	}
}

func TestUnmarshalRejectsUnknownTag(t *testing.T) {
	_, err := Unmarshal(ITU, []byte{0xFF, 0x00})
	if err == nil {
		t.Fatal("expected error for unrecognized package tag")
	}
}
