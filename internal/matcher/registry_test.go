package matcher

import "testing"

func TestRegistryBuildUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("nope", nil); err == nil {
		t.Fatal("expected error for unknown matcher name")
	}
}

func TestRegistryBuildDispatchesArgs(t *testing.T) {
	r := NewRegistry()
	var gotArgs []string
	r.Register("echo", func(args []string) (Matcher, error) {
		gotArgs = args
		return nil, nil
	})

	if _, err := r.Build("echo", []string{"a", "b"}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "a" || gotArgs[1] != "b" {
		t.Fatalf("factory received %v", gotArgs)
	}
}

func TestRegistryDuplicateRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", func([]string) (Matcher, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("dup", func([]string) (Matcher, error) { return nil, nil })
}

func TestResultString(t *testing.T) {
	cases := map[Result]string{
		False:  "false",
		True:   "true",
		Error:  "error",
		Parent: "parent",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", r, got, want)
		}
	}
}
