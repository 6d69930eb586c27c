package provider

import "testing"

func TestRegistry_LookupReturnsHeadBeforeTail(t *testing.T) {
	reg := NewRegistry()
	RegisterInto(reg, DynamicKeystore, Tail, func() (any, error) { return "tail", nil })
	RegisterInto(reg, DynamicKeystore, Head, func() (any, error) { return "head", nil })

	got, err := reg.Lookup(DynamicKeystore)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != "head" {
		t.Fatalf("expected Head registration to win, got %v", got)
	}
}

func TestRegistry_LookupUnregisteredNameFails(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Lookup(ReloadablePKIX); err == nil {
		t.Fatal("expected error for an unregistered algorithm name")
	}
}

func TestRegistry_LookupTailBypassesHead(t *testing.T) {
	reg := NewRegistry()
	RegisterInto(reg, TLS, Head, func() (any, error) { return "head", nil })
	RegisterInto(reg, TLS, Tail, func() (any, error) { return "tail", nil })

	got, err := reg.LookupTail(TLS)
	if err != nil {
		t.Fatalf("LookupTail: %v", err)
	}
	if got != "tail" {
		t.Fatalf("expected LookupTail to bypass the Head registration, got %v", got)
	}
}

func TestRegistry_LookupTailWithNoTailRegistrationFails(t *testing.T) {
	reg := NewRegistry()
	RegisterInto(reg, TLS, Head, func() (any, error) { return "head", nil })
	if _, err := reg.LookupTail(TLS); err == nil {
		t.Fatal("expected error when no Tail registration exists")
	}
}
