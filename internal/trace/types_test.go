package trace

import "testing"

func TestTagsAddIsIdempotent(t *testing.T) {
	var tags Tags
	tags.Add(Objc)
	tags.Add(Objc)
	if len(tags) != 1 {
		t.Fatalf("len(tags) = %d, want 1", len(tags))
	}
}

func TestTagsStringsAddsHashPrefix(t *testing.T) {
	tags := Tags{Dyld, Fallback}
	got := tags.Strings()
	want := []string{"#dyld", "#fallback"}
	for i, s := range want {
		if got[i] != s {
			t.Fatalf("Strings()[%d] = %q, want %q", i, got[i], s)
		}
	}
}

func TestDefaultEnricherTagsObjcRetain(t *testing.T) {
	e := NewEvent(0x1000, string(Objc), "objc_retain", "")
	DefaultEnricher(e)
	if !e.Tags.Has(Retain) {
		t.Fatal("expected objc_retain to be tagged #retain")
	}
}

func TestDefaultEnricherTagsLibcMalloc(t *testing.T) {
	e := NewEvent(0x1000, string(Libc), "malloc", "size=24")
	DefaultEnricher(e)
	if !e.Tags.Has(Malloc) {
		t.Fatal("expected malloc to be tagged #malloc")
	}
}

func TestDefaultEnricherTagsUnresolvedDyldFallback(t *testing.T) {
	e := NewEvent(0x1000, string(Dyld), "some_symbol", "unresolved")
	DefaultEnricher(e)
	if !e.Tags.Has(Fallback) {
		t.Fatal("expected an unresolved dyld event to be tagged #fallback")
	}
}

func TestDefaultEnricherLeavesUnrelatedEventsAlone(t *testing.T) {
	e := NewEvent(0x1000, string(Pthread), "pthread_create", "")
	DefaultEnricher(e)
	if len(e.Tags) != 1 {
		t.Fatalf("len(e.Tags) = %d, want 1 (no enrichment expected)", len(e.Tags))
	}
}
