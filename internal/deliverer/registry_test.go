package deliverer

import "testing"

func TestRegistryBuildUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("nope", nil); err == nil {
		t.Fatal("expected error for unknown deliverer name")
	}
}

func TestRegistryBuildDispatchesArgs(t *testing.T) {
	r := NewRegistry()
	var gotArgs []string
	r.Register("echo", func(args []string) (Item, error) {
		gotArgs = args
		return nil, nil
	})

	if _, err := r.Build("echo", []string{"/var/mail/%u"}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "/var/mail/%u" {
		t.Fatalf("factory received %v", gotArgs)
	}
}

func TestRegistryDuplicateRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", func([]string) (Item, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("dup", func([]string) (Item, error) { return nil, nil })
}

func TestTypeAndResultStrings(t *testing.T) {
	types := map[Type]string{InChild: "inchild", AsUser: "asuser", WriteBack: "wrback"}
	for typ, want := range types {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
	if Success.String() != "success" {
		t.Errorf("Success.String() = %q", Success.String())
	}
	if Failure.String() != "failure" {
		t.Errorf("Failure.String() = %q", Failure.String())
	}
}
